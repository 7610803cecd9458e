// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package gssapi provides the GSSAPI (Kerberos V5) SASL mechanism.  It is
// not part of the built-in catalogue; a provider declaration such as
//
//	- name: GSSAPI
//	  type: gssapi.GSSAPIMech
//
// binds it once DeclareTypes has made it resolvable.
package gssapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/golang-auth/go-saslmech/pkg/loggable"
	"github.com/golang-auth/go-saslmech/registry"

	"github.com/golang-auth/go-gssapi/v2"
	gsscommon "github.com/golang-auth/go-gssapi/v2/common"
	_ "github.com/golang-auth/go-gssapi/v2/krb5"
)

const mechName = "GSSAPI"

// see: https://www.iana.org/assignments/sasl-mechanisms/sasl-mechanisms.xhtml
var mechProps = common.MechProps{
	MaxSSF:             256,
	SecurityProperties: common.SecNoPlainText | common.SecNoActive | common.SecNoAnonymous | common.SecMutualAuth | common.SecPassCredentials,
	Features:           common.FeatNeedServerFQDN | common.FeatWantClientFirst | common.FeatChannelBindings,
}

// Impl returns the registry reference of the GSSAPI mechanism
func Impl() registry.Impl {
	return registry.ImplOf(newMech)
}

// DeclareTypes makes GSSAPIMech resolvable through c
func DeclareTypes(c *registry.TypeCatalog) error {
	return c.Add(Impl())
}

type qop uint8

const (
	layerNone qop = 1 << iota
	layerIntegrity
	layerConfidentiality
)

func (q qop) String() string {
	var names []string
	if q&layerNone > 0 {
		names = append(names, "none")
	}
	if q&layerIntegrity > 0 {
		names = append(names, "integrity")
	}
	if q&layerConfidentiality > 0 {
		names = append(names, "confidentiality")
	}

	return strings.Join(names, ", ")
}

type state uint8

const (
	stateAuthenticating state = iota
	stateSSFCap
	stateAuthenticated
)

type GSSAPIMech struct {
	loggable.Loggable
	config            common.MechConfig
	client            gssapi.Mech
	qop               qop
	ssf               uint
	state             state
	maxOutputBufferSz uint32
}

func newMech() *GSSAPIMech {
	return &GSSAPIMech{state: stateAuthenticating}
}

func (m *GSSAPIMech) Name() string {
	return mechName
}

func (m *GSSAPIMech) MechProperties() common.MechProps {
	return mechProps
}

func (m *GSSAPIMech) Configure(cfg common.MechConfig) error {
	if cfg.ServerFQDN == "" {
		return errors.New("gssapi: server FQDN not provided")
	}

	cfg.Logger.Debugf("new GSSAPIMech")
	m.Loggable = cfg.Logger
	m.config = cfg
	m.client = gssapi.NewMech("kerberos_v5")
	return nil
}

func (m *GSSAPIMech) Step(inToken []byte) (outToken []byte, err error) {
	if m.client == nil {
		return nil, fmt.Errorf("gssapi: %w", common.ErrNotConfigured)
	}

	switch m.state {
	case stateAuthenticating:
		return m.stepAuthenticating(inToken)
	case stateSSFCap:
		return m.stepSSFCap(inToken)
	case stateAuthenticated:
		return nil, common.ErrAlreadyEstablished
	}

	return nil, fmt.Errorf("gssapi: step - bad state (%d)", m.state)
}

// requestFlags works out the GSSAPI context flags needed to be able to
// provide up to the configured maximum SSF
func (m *GSSAPIMech) requestFlags() gssapi.ContextFlag {
	var flags gssapi.ContextFlag = gssapi.ContextFlagMutual | gssapi.ContextFlagSequence
	if m.config.MaxSSF > m.config.ExternalSSF {
		flags |= gssapi.ContextFlagInteg

		if (m.config.MaxSSF - m.config.ExternalSSF) > 1 {
			flags |= gssapi.ContextFlagConf
		}
	}

	return flags
}

func (m *GSSAPIMech) stepAuthenticating(inToken []byte) (outToken []byte, err error) {
	m.Debugf("gssapi: step (authenticating)")

	// only the first time..
	if inToken == nil {
		princName := m.config.Service + "/" + m.config.ServerFQDN
		flags := m.requestFlags()
		m.Debugf("gssapi: requesting flags [%s]", flags.String())

		// convert SASL channel binding data to GSSAPI channel binding data
		var gsscb *gsscommon.ChannelBinding
		if m.config.ChannelBinding != nil {
			gsscb = &gsscommon.ChannelBinding{
				Data: m.config.ChannelBinding.Data,
			}
		}

		if err = m.client.Initiate(princName, flags, gsscb); err != nil {
			return
		}

		switch {
		case m.client.ContextFlags()&gssapi.ContextFlagInteg == 0:
			m.qop = layerNone
		case m.client.ContextFlags()&gssapi.ContextFlagConf == 0:
			m.qop = layerNone | layerIntegrity
		default:
			m.qop = layerNone | layerIntegrity | layerConfidentiality
		}

		inToken = []byte{}
		m.Debugf("gssapi: step GSSAPI context initiated")
	}

	outToken, err = m.client.Continue(inToken)

	if m.client.IsEstablished() {
		if m.config.HTTPMode {
			m.Debugf("gssapi: step, GSSAPI context established (HTTP mode)")
			m.state = stateAuthenticated
		} else {
			m.Debugf("gssapi: step, GSSAPI context established, negotiating SSF")
			m.state = stateSSFCap
			if outToken == nil {
				outToken = []byte{}
			}
		}
	}

	return outToken, err
}

// ssfOffer is the server's security layer offer (RFC 4752 § 3.1)
type ssfOffer struct {
	layers     qop
	maxMsgSize uint32
}

func parseSSFOffer(data []byte) (ssfOffer, error) {
	if len(data) != 4 {
		return ssfOffer{}, fmt.Errorf("gssapi: bad SSF negotiate token (%d bytes, wanted 4)", len(data))
	}

	return ssfOffer{
		layers:     qop(data[0]),
		maxMsgSize: uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]),
	}, nil
}

// chooseQOP picks the strongest layer both sides support that fits in the
// SSF range left over after the external layer
func (m *GSSAPIMech) chooseQOP(offer qop, channelSSF uint) (qop, uint, error) {
	// how much 'SSF' is the mech allowed to provide and how much does it have to provide?
	var allowedSSF, needSSF uint
	if m.config.MaxSSF >= m.config.ExternalSSF {
		allowedSSF = m.config.MaxSSF - m.config.ExternalSSF
	}
	if m.config.MinSSF >= m.config.ExternalSSF {
		needSSF = m.config.MinSSF - m.config.ExternalSSF
	}
	m.Debugf("residual SSF permitted: %d, required: %d", allowedSSF, needSSF)

	switch {
	case m.qop&layerConfidentiality > 0 && offer&layerConfidentiality > 0 && allowedSSF >= channelSSF && needSSF <= channelSSF:
		// AD explicitly requires integrity when requesting confidentiality
		if val, ok := m.config.ExtraProps["ad_compat"]; ok && isTrue(val) {
			return layerConfidentiality | layerIntegrity, channelSSF, nil
		}
		return layerConfidentiality, channelSSF, nil
	case m.qop&layerIntegrity > 0 && offer&layerIntegrity > 0 && allowedSSF >= 1 && needSSF <= 1:
		return layerIntegrity, 1, nil
	case m.qop&layerNone > 0 && offer&layerNone > 0 && needSSF == 0:
		return layerNone, 0, nil
	}

	return 0, 0, errors.New("no suitable security layer available")
}

func (m *GSSAPIMech) stepSSFCap(inToken []byte) (outToken []byte, err error) {
	// inToken should be a wrapped token sent to us by the SASL server following the
	// establishment of the GSSAPI context
	m.Debugf("gssapi: step (negotiating SSF)")

	data, _, err := m.client.Unwrap(inToken)
	if err != nil {
		return nil, err
	}

	offer, err := parseSSFOffer(data)
	if err != nil {
		return nil, err
	}
	m.Debugf("server QOP offer: %s,   our QOP: %s", offer.layers, m.qop)

	channelSSF := m.client.SSF()
	m.Debugf("GSSAPI SSF: %d", channelSSF)
	if m.config.MinSSF > (channelSSF + m.config.ExternalSSF) {
		return nil, common.ErrTooWeak{MechSSF: channelSSF, ExtSSF: m.config.ExternalSSF, RequiredSSF: m.config.MinSSF}
	}

	qopChoice, ssf, err := m.chooseQOP(offer.layers, channelSSF)
	if err != nil {
		return nil, err
	}
	m.ssf = ssf
	m.Debugf("selected QOP: %s, ssf: %d", qopChoice, m.ssf)

	// max message size the server will accept
	m.maxOutputBufferSz = offer.maxMsgSize
	m.Debugf("server max input buffer size: %d", m.maxOutputBufferSz)

	if m.ssf > 0 {
		// max size of an pre-wrapped message we can send to the server
		m.maxOutputBufferSz = m.client.WrapSizeLimit(m.maxOutputBufferSz, (m.ssf > 1))
		m.Debugf("our max unwrapped output buffer size: %d", m.maxOutputBufferSz)
	}

	outToken, err = m.client.Wrap(ssfReply(qopChoice, m.config.MaxBufSize), false)
	if err != nil {
		return nil, err
	}

	m.state = stateAuthenticated
	return outToken, err
}

// ssfReply builds the client's security layer choice.  The buffer size
// is only sent when a layer was chosen.
func ssfReply(choice qop, maxBufSize uint) []byte {
	dataOut := make([]byte, 4)
	if choice > layerNone {
		max := min(maxBufSize, 0xFFFFFF) // the max is 16777215
		dataOut[1] = byte(max >> 16 & 0xff)
		dataOut[2] = byte(max >> 8 & 0xff)
		dataOut[3] = byte(max >> 0 & 0xff)
	}
	dataOut[0] = byte(choice)

	return dataOut
}

func (m *GSSAPIMech) IsEstablished() bool {
	return (m.state == stateAuthenticated)
}

func (m *GSSAPIMech) ContextParams() common.ContextParams {
	return common.ContextParams{
		SSF:                m.ssf,
		MaxPeerMessageSize: m.maxOutputBufferSz,
	}
}

func (m *GSSAPIMech) Encode(input []byte) (outToken []byte, err error) {
	if m.ssf == 0 {
		return nil, fmt.Errorf("can't encode data: %w", common.ErrNoSecurityLayer)
	}

	return m.client.Wrap(input, (m.ssf > 1))
}

func (m *GSSAPIMech) Decode(inputToken []byte) (output []byte, err error) {
	if m.ssf == 0 {
		return nil, fmt.Errorf("can't decode data: %w", common.ErrNoSecurityLayer)
	}

	output, _, err = m.client.Unwrap(inputToken)
	return
}

func isTrue(val string) bool {
	return val == "1" || val == "y" || val == "on" || val == "t"
}
