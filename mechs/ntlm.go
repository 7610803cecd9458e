// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"bytes"
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"

	"github.com/golang-auth/go-saslmech/common"
)

const (
	ntlmNegotiateUnicode    uint32 = 0x00000001
	ntlmNegotiateOEM        uint32 = 0x00000002
	ntlmRequestTarget       uint32 = 0x00000004
	ntlmNegotiateNTLM       uint32 = 0x00000200
	ntlmNegotiateAlwaysSign uint32 = 0x00008000

	ntlmClientFlags = ntlmNegotiateUnicode | ntlmNegotiateOEM | ntlmRequestTarget | ntlmNegotiateNTLM | ntlmNegotiateAlwaysSign

	// 100ns intervals between 1601-01-01 and 1970-01-01
	filetimeEpochDelta = 116444736000000000
)

var ntlmSignature = []byte("NTLMSSP\x00")

type ntlmState uint8

const (
	ntlmStateNegotiate ntlmState = iota
	ntlmStateAuthenticate
)

// ntlmMech sends NTLM negotiate and authenticate messages.  It computes
// NTLMv1 responses unless v2 is set.
type ntlmMech struct {
	mechBase
	v2          bool
	authID      string
	password    string
	domain      string
	workstation string
	state       ntlmState
	now         func() time.Time
}

// ntlmv2Mech is NTLM with NTLMv2 responses
type ntlmv2Mech struct {
	ntlmMech
}

func newNTLMMech() *ntlmMech {
	return &ntlmMech{now: time.Now}
}

func newNTLMv2Mech() *ntlmv2Mech {
	return &ntlmv2Mech{ntlmMech{v2: true, now: time.Now}}
}

func (m *ntlmMech) Name() string {
	return "NTLM"
}

// Name is the wire name.  NTLMv2 has no mechanism name of its own and is
// negotiated as NTLM; the registry tells the two apart by their bindings.
func (m *ntlmv2Mech) Name() string {
	return "NTLM"
}

func (m *ntlmMech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoPlainText | common.SecNoAnonymous,
		Features:           common.FeatWantClientFirst,
	}
}

func (m *ntlmMech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.password = cfg.Prop("password", cfg.Password)
	m.domain = cfg.Prop("domain", cfg.Domain)
	m.workstation = cfg.ExtraProps["workstation"]

	if err := requireCreds("ntlm", m.authID, m.password); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

func (m *ntlmMech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("ntlm"); err != nil {
		return nil, err
	}

	switch m.state {
	case ntlmStateNegotiate:
		m.Debugf("ntlm: sending negotiate message")
		m.state = ntlmStateAuthenticate
		return ntlmNegotiateMessage(), nil
	case ntlmStateAuthenticate:
		return m.stepAuthenticate(inToken)
	}

	return nil, fmt.Errorf("ntlm: step - bad state (%d)", m.state)
}

func ntlmNegotiateMessage() []byte {
	msg := make([]byte, 32)
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 1)
	binary.LittleEndian.PutUint32(msg[12:], ntlmClientFlags)
	// empty domain and workstation security buffers
	return msg
}

type ntlmChallenge struct {
	flags      uint32
	challenge  []byte
	targetName []byte
	targetInfo []byte
}

func parseNTLMChallenge(msg []byte) (*ntlmChallenge, error) {
	if len(msg) < 32 || !bytes.Equal(msg[:8], ntlmSignature) || binary.LittleEndian.Uint32(msg[8:]) != 2 {
		return nil, fmt.Errorf("ntlm: %w: not a challenge message", common.ErrBadChallenge)
	}

	c := &ntlmChallenge{
		flags:     binary.LittleEndian.Uint32(msg[20:]),
		challenge: msg[24:32],
	}

	var err error
	if c.targetName, err = ntlmSecBuf(msg, 12); err != nil {
		return nil, err
	}

	if len(msg) >= 48 {
		if c.targetInfo, err = ntlmSecBuf(msg, 40); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func ntlmSecBuf(msg []byte, at int) ([]byte, error) {
	l := int(binary.LittleEndian.Uint16(msg[at:]))
	off := int(binary.LittleEndian.Uint32(msg[at+4:]))

	if l == 0 {
		return nil, nil
	}
	if off < 0 || off+l > len(msg) {
		return nil, fmt.Errorf("ntlm: %w: security buffer out of range", common.ErrBadChallenge)
	}

	return msg[off : off+l], nil
}

func (m *ntlmMech) stepAuthenticate(inToken []byte) ([]byte, error) {
	c, err := parseNTLMChallenge(inToken)
	if err != nil {
		return nil, err
	}

	unicode := c.flags&ntlmNegotiateUnicode != 0
	domain := m.domain
	if domain == "" && len(c.targetName) > 0 {
		domain = decodeNTLMString(c.targetName, unicode)
	}

	var lmResp, ntResp []byte
	if m.v2 {
		m.Debugf("ntlm: computing NTLMv2 response for %s\\%s", domain, m.authID)
		clientChallenge := make([]byte, 8)
		if _, err = rand.Read(clientChallenge); err != nil {
			return nil, err
		}
		lmResp, ntResp = ntlmV2Responses(m.password, m.authID, domain, c.challenge, clientChallenge, c.targetInfo, m.now())
	} else {
		m.Debugf("ntlm: computing NTLMv1 response for %s", m.authID)
		ntResp = ntlmV1Response(m.password, c.challenge)
		lmResp = ntResp
	}

	m.established = true
	return ntlmAuthenticateMessage(unicode, domain, m.authID, m.workstation, lmResp, ntResp), nil
}

func ntlmAuthenticateMessage(unicode bool, domain, user, workstation string, lmResp, ntResp []byte) []byte {
	const headerLen = 64

	flags := ntlmNegotiateNTLM | ntlmRequestTarget | ntlmNegotiateAlwaysSign
	if unicode {
		flags |= ntlmNegotiateUnicode
	} else {
		flags |= ntlmNegotiateOEM
	}

	fields := [][]byte{
		lmResp,
		ntResp,
		encodeNTLMString(domain, unicode),
		encodeNTLMString(user, unicode),
		encodeNTLMString(workstation, unicode),
		nil, // session key
	}

	msg := make([]byte, headerLen)
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 3)

	// payload order follows the usual domain, user, workstation, LM, NT
	offsets := make([]int, len(fields))
	off := headerLen
	for _, i := range []int{2, 3, 4, 0, 1, 5} {
		offsets[i] = off
		off += len(fields[i])
	}

	for i, f := range fields {
		at := 12 + i*8
		binary.LittleEndian.PutUint16(msg[at:], uint16(len(f)))
		binary.LittleEndian.PutUint16(msg[at+2:], uint16(len(f)))
		binary.LittleEndian.PutUint32(msg[at+4:], uint32(offsets[i]))
	}
	binary.LittleEndian.PutUint32(msg[60:], flags)

	for _, i := range []int{2, 3, 4, 0, 1, 5} {
		msg = append(msg, fields[i]...)
	}

	return msg
}

func encodeNTLMString(s string, unicode bool) []byte {
	if !unicode {
		return []byte(strings.ToUpper(s))
	}

	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u))
	for i, r := range u {
		binary.LittleEndian.PutUint16(b[2*i:], r)
	}

	return b
}

func decodeNTLMString(b []byte, unicode bool) string {
	if !unicode {
		return string(b)
	}

	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}

	return string(utf16.Decode(u))
}

func ntowfv1(password string) []byte {
	h := md4.New()
	h.Write(encodeNTLMString(password, true))
	return h.Sum(nil)
}

func ntowfv2(password, user, domain string) []byte {
	mac := hmac.New(md5.New, ntowfv1(password))
	mac.Write(encodeNTLMString(strings.ToUpper(user)+domain, true))
	return mac.Sum(nil)
}

// ntlmV1Response is DESL(NTOWFv1(password), challenge)
func ntlmV1Response(password string, challenge []byte) []byte {
	key := make([]byte, 21)
	copy(key, ntowfv1(password))

	resp := make([]byte, 24)
	for i := 0; i < 3; i++ {
		// the key is always 8 bytes so NewCipher can't fail
		block, _ := des.NewCipher(desKey(key[i*7 : i*7+7]))
		block.Encrypt(resp[i*8:], challenge)
	}

	return resp
}

func ntlmV2Responses(password, user, domain string, serverChallenge, clientChallenge, targetInfo []byte, now time.Time) (lm, nt []byte) {
	key := ntowfv2(password, user, domain)

	blob := make([]byte, 28, 28+len(targetInfo)+4)
	blob[0], blob[1] = 1, 1
	binary.LittleEndian.PutUint64(blob[8:], uint64(now.UnixNano()/100+filetimeEpochDelta))
	copy(blob[16:], clientChallenge)
	blob = append(blob, targetInfo...)
	blob = append(blob, 0, 0, 0, 0)

	mac := hmac.New(md5.New, key)
	mac.Write(serverChallenge)
	mac.Write(blob)
	nt = append(mac.Sum(nil), blob...)

	mac.Reset()
	mac.Write(serverChallenge)
	mac.Write(clientChallenge)
	lm = append(mac.Sum(nil), clientChallenge...)

	return lm, nt
}

// desKey spreads 56 key bits over 8 bytes, leaving the parity bits clear
func desKey(k []byte) []byte {
	return []byte{
		k[0],
		k[0]<<7 | k[1]>>1,
		k[1]<<6 | k[2]>>2,
		k[2]<<5 | k[3]>>3,
		k[3]<<4 | k[4]>>4,
		k[4]<<3 | k[5]>>5,
		k[5]<<2 | k[6]>>6,
		k[6] << 1,
	}
}
