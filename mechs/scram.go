// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/golang-auth/go-saslmech/common"
)

// the most PBKDF2 iterations a server may ask for
const scramMaxIterations = 1 << 20

type scramState uint8

const (
	scramStateClientFirst scramState = iota
	scramStateClientFinal
	scramStateVerify
)

// scramSHA1Mech implements RFC 5802 without channel binding
type scramSHA1Mech struct {
	mechBase
	authID          string
	authzID         string
	password        string
	state           scramState
	nonce           func() (string, error)
	clientNonce     string
	clientFirstBare string
	serverSignature []byte
}

func newScramSHA1Mech() *scramSHA1Mech {
	return &scramSHA1Mech{
		nonce: func() (string, error) { return randomNonce(18) },
	}
}

func (m *scramSHA1Mech) Name() string {
	return "SCRAM-SHA-1"
}

func (m *scramSHA1Mech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoPlainText | common.SecNoActive | common.SecNoAnonymous | common.SecMutualAuth,
		Features:           common.FeatWantClientFirst,
	}
}

func (m *scramSHA1Mech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.authzID = cfg.Prop("authzid", cfg.AuthzID)
	m.password = cfg.Prop("password", cfg.Password)

	if err := requireCreds("scram-sha-1", m.authID, m.password); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

func (m *scramSHA1Mech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("scram-sha-1"); err != nil {
		return nil, err
	}

	switch m.state {
	case scramStateClientFirst:
		return m.stepClientFirst()
	case scramStateClientFinal:
		return m.stepClientFinal(inToken)
	case scramStateVerify:
		return m.stepVerify(inToken)
	}

	return nil, fmt.Errorf("scram-sha-1: step - bad state (%d)", m.state)
}

func (m *scramSHA1Mech) gs2Header() string {
	if m.authzID == "" {
		return "n,,"
	}

	return "n,a=" + scramEscape(m.authzID) + ","
}

func (m *scramSHA1Mech) stepClientFirst() ([]byte, error) {
	nonce, err := m.nonce()
	if err != nil {
		return nil, err
	}

	m.clientNonce = nonce
	m.clientFirstBare = "n=" + scramEscape(m.authID) + ",r=" + nonce
	m.state = scramStateClientFinal

	m.Debugf("scram-sha-1: sending client-first message")
	return []byte(m.gs2Header() + m.clientFirstBare), nil
}

func (m *scramSHA1Mech) stepClientFinal(inToken []byte) ([]byte, error) {
	serverFirst := string(inToken)
	attrs := scramAttrs(serverFirst)

	if e, ok := attrs["e"]; ok {
		return nil, fmt.Errorf("scram-sha-1: %w: %s", common.ErrServerAuth, e)
	}

	nonce := attrs["r"]
	if !strings.HasPrefix(nonce, m.clientNonce) || len(nonce) == len(m.clientNonce) {
		return nil, fmt.Errorf("scram-sha-1: %w: server nonce does not extend client nonce", common.ErrBadChallenge)
	}

	salt, err := base64.StdEncoding.DecodeString(attrs["s"])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("scram-sha-1: %w: bad salt", common.ErrBadChallenge)
	}

	iter, err := strconv.Atoi(attrs["i"])
	if err != nil || iter < 1 || iter > scramMaxIterations {
		return nil, fmt.Errorf("scram-sha-1: %w: bad iteration count", common.ErrBadChallenge)
	}

	m.Debugf("scram-sha-1: deriving keys (%d iterations)", iter)

	salted := pbkdf2.Key([]byte(m.password), salt, iter, sha1.Size, sha1.New)
	clientKey := hmacSHA1(salted, []byte("Client Key"))
	storedKey := sha1.Sum(clientKey)

	channelBinding := base64.StdEncoding.EncodeToString([]byte(m.gs2Header()))
	finalNoProof := "c=" + channelBinding + ",r=" + nonce
	authMessage := []byte(m.clientFirstBare + "," + serverFirst + "," + finalNoProof)

	clientSig := hmacSHA1(storedKey[:], authMessage)
	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSig[i]
	}

	serverKey := hmacSHA1(salted, []byte("Server Key"))
	m.serverSignature = hmacSHA1(serverKey, authMessage)
	m.state = scramStateVerify

	return []byte(finalNoProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

func (m *scramSHA1Mech) stepVerify(inToken []byte) ([]byte, error) {
	attrs := scramAttrs(string(inToken))

	if e, ok := attrs["e"]; ok {
		return nil, fmt.Errorf("scram-sha-1: %w: %s", common.ErrServerAuth, e)
	}

	v, err := base64.StdEncoding.DecodeString(attrs["v"])
	if err != nil || subtle.ConstantTimeCompare(v, m.serverSignature) != 1 {
		return nil, fmt.Errorf("scram-sha-1: %w: bad server signature", common.ErrServerAuth)
	}

	m.established = true
	return []byte{}, nil
}

func hmacSHA1(key, data []byte) []byte {
	mac := hmac.New(sha1.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func scramEscape(s string) string {
	return strings.NewReplacer("=", "=3D", ",", "=2C").Replace(s)
}

func scramAttrs(msg string) map[string]string {
	attrs := make(map[string]string)

	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 || part[1] != '=' {
			continue
		}
		attrs[part[:1]] = part[2:]
	}

	return attrs
}
