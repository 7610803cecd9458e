// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"encoding/json"
	"fmt"

	"github.com/golang-auth/go-saslmech/common"
)

// oauthMech sends a bare access token
type oauthMech struct {
	mechBase
	token string
}

func newOAuthMech() *oauthMech {
	return &oauthMech{}
}

func (m *oauthMech) Name() string {
	return "OAUTH"
}

func (m *oauthMech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoAnonymous | common.SecPassCredentials,
		Features:           common.FeatWantClientFirst | common.FeatDontUseUserPassword,
	}
}

func (m *oauthMech) Configure(cfg common.MechConfig) error {
	m.token = cfg.Prop("token", cfg.Token)

	if err := requireCreds("oauth", m.token); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

func (m *oauthMech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("oauth"); err != nil {
		return nil, err
	}

	m.established = true
	return []byte(m.token), nil
}

type oauth2State uint8

const (
	oauth2StateInitial oauth2State = iota
	oauth2StateSent
)

// oauth2Mech implements the XOAUTH2 bearer token exchange
type oauth2Mech struct {
	mechBase
	authID string
	token  string
	state  oauth2State
}

// oauth2Error is the JSON document a server sends when it rejects a token
type oauth2Error struct {
	Status  string `json:"status"`
	Schemes string `json:"schemes"`
	Scope   string `json:"scope"`
}

func newOAuth2Mech() *oauth2Mech {
	return &oauth2Mech{}
}

func (m *oauth2Mech) Name() string {
	return "XOAUTH2"
}

func (m *oauth2Mech) MechProperties() common.MechProps {
	return common.MechProps{
		SecurityProperties: common.SecNoAnonymous | common.SecPassCredentials,
		Features:           common.FeatWantClientFirst | common.FeatDontUseUserPassword,
	}
}

func (m *oauth2Mech) Configure(cfg common.MechConfig) error {
	m.authID = cfg.Prop("authid", cfg.AuthID)
	m.token = cfg.Prop("token", cfg.Token)

	if err := requireCreds("oauth2", m.authID, m.token); err != nil {
		return err
	}

	m.configure(cfg)
	return nil
}

// Step sends the initial client response, after which the exchange is
// complete from the client's side.  A server that rejects the token sends
// a JSON challenge instead of success; see ParseOAuth2Error.
func (m *oauth2Mech) Step(inToken []byte) (outToken []byte, err error) {
	if err = m.checkStep("oauth2"); err != nil {
		return nil, err
	}

	switch m.state {
	case oauth2StateInitial:
		m.state = oauth2StateSent
		m.established = true
		return []byte("user=" + m.authID + "\x01auth=Bearer " + m.token + "\x01\x01"), nil
	}

	return nil, fmt.Errorf("oauth2: step - bad state (%d)", m.state)
}

// ParseOAuth2Error decodes the failure challenge of an XOAUTH2 server.  The
// client answers such a challenge with an empty response.
func ParseOAuth2Error(challenge []byte) error {
	var e oauth2Error
	if err := json.Unmarshal(challenge, &e); err != nil {
		return fmt.Errorf("oauth2: %w: %v", common.ErrBadChallenge, err)
	}

	return fmt.Errorf("oauth2: %w: status %s (scope %q)", common.ErrServerAuth, e.Status, e.Scope)
}
