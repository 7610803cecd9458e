// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/golang-auth/go-saslmech/common"
)

const (
	srpMDA        = "mda=SHA-160"
	srpMinModBits = 512
)

type srpState uint8

const (
	srpStateIdentity srpState = iota
	srpStateEvidence
	srpStateVerify
)

// srpMech is an SRP-6a client using SHA-1 and length prefixed message
// framing.  No security layer is negotiated.
type srpMech struct {
	mechBase
	authID   string
	authzID  string
	password string
	state    srpState
	random   func(n int) ([]byte, error)

	// values needed to check the server evidence
	a, m1, k []byte
	options  string
}

func newSRPMech() *srpMech {
	return &srpMech{
		random: func(n int) ([]byte, error) {
			b := make([]byte, n)
			_, err := rand.Read(b)
			return b, err
		},
	}
}

func (m *srpMech) Name() string {
	return "SRP"
}

func (m *srpMech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoPlainText | common.SecNoActive | common.SecNoDictionary |
			common.SecNoAnonymous | common.SecMutualAuth,
		Features: common.FeatWantClientFirst,
	}
}

func (m *srpMech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.authzID = cfg.Prop("authzid", cfg.AuthzID)
	m.password = cfg.Prop("password", cfg.Password)

	if err := requireCreds("srp", m.authID, m.password); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

func (m *srpMech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("srp"); err != nil {
		return nil, err
	}

	switch m.state {
	case srpStateIdentity:
		m.Debugf("srp: sending identity %s", m.authID)
		var w srpWriter
		w.utf8(m.authID)
		w.utf8(m.authzID)
		w.utf8("") // no session to reuse
		w.os(nil)  // no client nonce
		m.state = srpStateEvidence
		return w.buffer(), nil
	case srpStateEvidence:
		return m.stepEvidence(inToken)
	case srpStateVerify:
		return m.stepVerify(inToken)
	}

	return nil, fmt.Errorf("srp: step - bad state (%d)", m.state)
}

func (m *srpMech) stepEvidence(inToken []byte) ([]byte, error) {
	r, err := newSRPReader(inToken)
	if err != nil {
		return nil, err
	}

	N := r.mpi()
	g := r.mpi()
	salt := r.os()
	B := r.mpi()
	L := r.utf8()
	if r.err != nil {
		return nil, r.err
	}

	if N.BitLen() < srpMinModBits {
		return nil, fmt.Errorf("srp: %w: modulus too small (%d bits)", common.ErrBadChallenge, N.BitLen())
	}
	if !containsToken(L, srpMDA) {
		return nil, fmt.Errorf("srp: %w: server does not offer %s", common.ErrBadChallenge, srpMDA)
	}

	zero := new(big.Int)
	if g.Cmp(big.NewInt(2)) < 0 || g.Cmp(N) >= 0 {
		return nil, fmt.Errorf("srp: %w: illegal generator", common.ErrBadChallenge)
	}
	// B must be in [1, N-1]; padded values are never wider than N
	if B.Sign() <= 0 || B.Cmp(N) >= 0 {
		return nil, fmt.Errorf("srp: %w: illegal server public value", common.ErrBadChallenge)
	}

	m.Debugf("srp: computing evidence (%d bit modulus)", N.BitLen())

	abytes, err := m.random(32)
	if err != nil {
		return nil, err
	}
	a := new(big.Int).SetBytes(abytes)
	A := new(big.Int).Exp(g, a, N)

	k := srpHashInt(N.Bytes(), srpPad(g, N))
	x := srpHashInt(salt, srpHash([]byte(m.authID+":"+m.password)))
	u := srpHashInt(srpPad(A, N), srpPad(B, N))
	if u.Cmp(zero) == 0 {
		return nil, fmt.Errorf("srp: %w: scrambling parameter is zero", common.ErrBadChallenge)
	}

	// S = (B - k*g^x) ^ (a + u*x) mod N
	base := new(big.Int).Exp(g, x, N)
	base.Mul(base, k)
	base.Sub(B, base)
	base.Mod(base, N)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	S := new(big.Int).Exp(base, exp, N)

	K := srpHash(S.Bytes())

	hn := srpHash(N.Bytes())
	hg := srpHash(g.Bytes())
	for i := range hn {
		hn[i] ^= hg[i]
	}

	m.options = srpMDA
	m.a = A.Bytes()
	m.k = K
	m.m1 = srpHash(hn, srpHash([]byte(m.authID)), salt, m.a, B.Bytes(), K,
		srpHash([]byte(m.authzID)), srpHash([]byte(L)))

	var w srpWriter
	w.mpi(A)
	w.os(m.m1)
	w.utf8(m.options)
	w.os(nil) // no client IV, no confidentiality layer
	m.state = srpStateVerify

	return w.buffer(), nil
}

func (m *srpMech) stepVerify(inToken []byte) ([]byte, error) {
	r, err := newSRPReader(inToken)
	if err != nil {
		return nil, err
	}

	m2 := r.os()
	r.os() // server IV
	sid := r.utf8()
	ttl := r.u32()
	if r.err != nil {
		return nil, r.err
	}

	ttlBytes := binary.BigEndian.AppendUint32(nil, ttl)
	want := srpHash(m.a, m.m1, m.k, srpHash([]byte(m.authzID)), srpHash([]byte(m.options)), []byte(sid), ttlBytes)

	if subtle.ConstantTimeCompare(m2, want) != 1 {
		return nil, fmt.Errorf("srp: %w: bad server evidence", common.ErrServerAuth)
	}

	m.established = true
	return []byte{}, nil
}

func srpHash(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func srpHashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(srpHash(parts...))
}

// srpPad left pads the value of x to the length of N
func srpPad(x, N *big.Int) []byte {
	return x.FillBytes(make([]byte, (N.BitLen()+7)/8))
}

var errSRPShort = errors.New("srp: message truncated")

type srpWriter struct {
	bytes.Buffer
}

func (w *srpWriter) mpi(x *big.Int) {
	b := x.Bytes()
	w.Write(binary.BigEndian.AppendUint16(nil, uint16(len(b))))
	w.Write(b)
}

func (w *srpWriter) os(b []byte) {
	w.WriteByte(byte(len(b)))
	w.Write(b)
}

func (w *srpWriter) utf8(s string) {
	w.Write(binary.BigEndian.AppendUint16(nil, uint16(len(s))))
	w.WriteString(s)
}

func (w *srpWriter) buffer() []byte {
	return append(binary.BigEndian.AppendUint32(nil, uint32(w.Len())), w.Bytes()...)
}

// srpReader decodes a buffer; the first error sticks and later reads
// return zero values
type srpReader struct {
	data []byte
	err  error
}

func newSRPReader(msg []byte) (*srpReader, error) {
	if len(msg) < 4 || int(binary.BigEndian.Uint32(msg)) != len(msg)-4 {
		return nil, fmt.Errorf("srp: %w: bad buffer length", common.ErrBadChallenge)
	}

	return &srpReader{data: msg[4:]}, nil
}

func (r *srpReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.data) {
		r.err = fmt.Errorf("%w: %w", common.ErrBadChallenge, errSRPShort)
		return nil
	}

	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *srpReader) len16() int {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(b))
}

func (r *srpReader) mpi() *big.Int {
	return new(big.Int).SetBytes(r.take(r.len16()))
}

func (r *srpReader) os() []byte {
	b := r.take(1)
	if b == nil {
		return nil
	}
	return r.take(int(b[0]))
}

func (r *srpReader) utf8() string {
	return string(r.take(r.len16()))
}

func (r *srpReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
