// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/golang-auth/go-saslmech/common"
)

type digestState uint8

const (
	digestStateChallenge digestState = iota
	digestStateRspAuth
)

// digestMD5Mech implements the authentication-only (qop=auth) subset of
// RFC 2831
type digestMD5Mech struct {
	mechBase
	authID   string
	authzID  string
	password string
	state    digestState
	rspAuth  string
	cnonce   func() (string, error)
}

func newDigestMD5Mech() *digestMD5Mech {
	return &digestMD5Mech{
		cnonce: func() (string, error) { return randomNonce(16) },
	}
}

func (m *digestMD5Mech) Name() string {
	return "DIGEST-MD5"
}

func (m *digestMD5Mech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoPlainText | common.SecNoAnonymous | common.SecMutualAuth,
		Features:           common.FeatServerFirst | common.FeatNeedServerFQDN,
	}
}

func (m *digestMD5Mech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.authzID = cfg.Prop("authzid", cfg.AuthzID)
	m.password = cfg.Prop("password", cfg.Password)

	if err := requireCreds("digest-md5", m.authID, m.password); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

func (m *digestMD5Mech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("digest-md5"); err != nil {
		return nil, err
	}

	switch m.state {
	case digestStateChallenge:
		return m.stepChallenge(inToken)
	case digestStateRspAuth:
		return m.stepRspAuth(inToken)
	}

	return nil, fmt.Errorf("digest-md5: step - bad state (%d)", m.state)
}

func (m *digestMD5Mech) digestURI() string {
	if uri := m.config.ExtraProps["digest-uri"]; uri != "" {
		return uri
	}

	return m.config.Service + "/" + m.config.ServerFQDN
}

func (m *digestMD5Mech) stepChallenge(inToken []byte) ([]byte, error) {
	m.Debugf("digest-md5: step (challenge)")

	dirs, err := parseDirectives(string(inToken))
	if err != nil {
		return nil, err
	}

	nonce := dirs["nonce"]
	if nonce == "" {
		return nil, fmt.Errorf("digest-md5: %w: no nonce", common.ErrBadChallenge)
	}
	if dirs["algorithm"] != "md5-sess" {
		return nil, fmt.Errorf("digest-md5: %w: unsupported algorithm %q", common.ErrBadChallenge, dirs["algorithm"])
	}

	if qop, ok := dirs["qop"]; ok && !containsToken(qop, "auth") {
		return nil, fmt.Errorf("digest-md5: %w: server does not offer qop=auth (%s)", common.ErrBadChallenge, qop)
	}

	realm := m.config.Prop("realm", dirs["realm"])
	if realm == "" {
		realm = m.config.ServerFQDN
	}

	cnonce, err := m.cnonce()
	if err != nil {
		return nil, err
	}

	uri := m.digestURI()
	const nc = "00000001"

	resp := digestResponse(m.authID, realm, m.password, m.authzID, nonce, cnonce, nc, "AUTHENTICATE:"+uri)
	m.rspAuth = digestResponse(m.authID, realm, m.password, m.authzID, nonce, cnonce, nc, ":"+uri)

	var sb strings.Builder
	if dirs["charset"] == "utf-8" {
		sb.WriteString("charset=utf-8,")
	}
	fmt.Fprintf(&sb, `username="%s",realm="%s",nonce="%s",nc=%s,cnonce="%s",digest-uri="%s",response=%s,qop=auth`,
		quote(m.authID), quote(realm), quote(nonce), nc, quote(cnonce), quote(uri), resp)
	if m.authzID != "" {
		fmt.Fprintf(&sb, `,authzid="%s"`, quote(m.authzID))
	}

	m.state = digestStateRspAuth
	return []byte(sb.String()), nil
}

func (m *digestMD5Mech) stepRspAuth(inToken []byte) ([]byte, error) {
	m.Debugf("digest-md5: step (verifying server)")

	dirs, err := parseDirectives(string(inToken))
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(dirs["rspauth"]), []byte(m.rspAuth)) != 1 {
		return nil, fmt.Errorf("digest-md5: %w", common.ErrServerAuth)
	}

	m.established = true
	return []byte{}, nil
}

func digestResponse(user, realm, pass, authzID, nonce, cnonce, nc, a2 string) string {
	h := md5.Sum([]byte(user + ":" + realm + ":" + pass))
	a1 := string(h[:]) + ":" + nonce + ":" + cnonce
	if authzID != "" {
		a1 += ":" + authzID
	}

	return md5Hex(md5Hex(a1) + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + md5Hex(a2))
}

func md5Hex(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func containsToken(list, tok string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == tok {
			return true
		}
	}

	return false
}

// parseDirectives parses a comma separated list of name=value pairs as
// used by DIGEST-MD5.  Values may be quoted.  Only the first value of a
// repeated directive is kept.
func parseDirectives(s string) (map[string]string, error) {
	dirs := make(map[string]string)

	for i := 0; i < len(s); {
		// skip separators
		for i < len(s) && (s[i] == ',' || s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			return nil, fmt.Errorf("digest-md5: %w: directive without value", common.ErrBadChallenge)
		}
		name := strings.ToLower(strings.TrimSpace(s[i : i+eq]))
		i += eq + 1

		var val strings.Builder
		if i < len(s) && s[i] == '"' {
			i++
			closed := false
			for ; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					val.WriteByte(s[i])
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				val.WriteByte(c)
			}
			if !closed {
				return nil, fmt.Errorf("digest-md5: %w: unterminated quoted string", common.ErrBadChallenge)
			}
		} else {
			end := strings.IndexByte(s[i:], ',')
			if end < 0 {
				end = len(s) - i
			}
			val.WriteString(strings.TrimSpace(s[i : i+end]))
			i += end
		}

		if _, ok := dirs[name]; !ok {
			dirs[name] = val.String()
		}
	}

	return dirs, nil
}
