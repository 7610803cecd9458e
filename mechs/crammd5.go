// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/golang-auth/go-saslmech/common"
)

// cramMD5Mech implements RFC 2195
type cramMD5Mech struct {
	mechBase
	authID   string
	password string
}

func newCramMD5Mech() *cramMD5Mech {
	return &cramMD5Mech{}
}

func (m *cramMD5Mech) Name() string {
	return "CRAM-MD5"
}

func (m *cramMD5Mech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoPlainText | common.SecNoAnonymous,
		Features:           common.FeatServerFirst,
	}
}

func (m *cramMD5Mech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.password = cfg.Prop("password", cfg.Password)

	if err := requireCreds("cram-md5", m.authID, m.password); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

func (m *cramMD5Mech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("cram-md5"); err != nil {
		return nil, err
	}

	if len(inToken) == 0 {
		return nil, fmt.Errorf("cram-md5: %w: empty challenge", common.ErrBadChallenge)
	}

	mac := hmac.New(md5.New, []byte(m.password))
	mac.Write(inToken)

	m.established = true
	return []byte(m.authID + " " + hex.EncodeToString(mac.Sum(nil))), nil
}
