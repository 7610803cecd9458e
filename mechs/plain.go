// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"github.com/golang-auth/go-saslmech/common"
)

// plainMech implements RFC 4616
type plainMech struct {
	mechBase
	authzID  string
	authID   string
	password string
}

func newPlainMech() *plainMech {
	return &plainMech{}
}

func (m *plainMech) Name() string {
	return "PLAIN"
}

func (m *plainMech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoAnonymous | common.SecPassCredentials,
		Features:           common.FeatWantClientFirst,
	}
}

func (m *plainMech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.authzID = cfg.Prop("authzid", cfg.AuthzID)
	m.password = cfg.Prop("password", cfg.Password)

	if err := requireCreds("plain", m.authID, m.password); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

// Step sends the single client message; any server challenge is ignored
func (m *plainMech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("plain"); err != nil {
		return nil, err
	}

	m.Debugf("plain: sending credentials for %s", m.authID)

	outToken = make([]byte, 0, len(m.authzID)+len(m.authID)+len(m.password)+2)
	outToken = append(outToken, m.authzID...)
	outToken = append(outToken, 0)
	outToken = append(outToken, m.authID...)
	outToken = append(outToken, 0)
	outToken = append(outToken, m.password...)

	m.established = true
	return outToken, nil
}
