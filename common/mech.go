// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package common

import (
	"github.com/golang-auth/go-saslmech/pkg/loggable"
)

type MechProps struct {
	MaxSSF             uint
	SecurityProperties SecurityFlag
	Features           Feature
}

type ContextParams struct {
	SSF                uint
	MaxPeerMessageSize uint32
}

// ChannelBinding carries the channel binding data of the outer
// (usually TLS) connection.  Critical bindings must be honoured
// by the negotiated mechanism.
type ChannelBinding struct {
	Critical bool
	Data     []byte
}

type MechConfig struct {
	Logger         loggable.Loggable
	Service        string
	ServerFQDN     string
	MinSSF         uint
	MaxSSF         uint
	MaxBufSize     uint
	ExternalSSF    uint
	SecProps       SecurityFlag
	HTTPMode       bool
	ExtraProps     map[string]string
	ChannelBinding *ChannelBinding

	// client credentials; which of these a mechanism needs depends
	// on the mechanism
	AuthID   string
	AuthzID  string
	Password string
	Domain   string
	Token    string
}

// Prop returns the first non-empty value out of the named field and the
// ExtraProps entry with the same key
func (c MechConfig) Prop(key, field string) string {
	if field != "" {
		return field
	}

	return c.ExtraProps[key]
}

// Mech is the capability contract every registered mechanism satisfies.
// Instances are created unconfigured by the registry and must be
// configured before the first Step.
type Mech interface {
	Name() string
	MechProperties() MechProps
	Configure(cfg MechConfig) error
	IsEstablished() bool
	ContextParams() ContextParams
	Step(inToken []byte) (outToken []byte, err error)
	Encode(input []byte) (outToken []byte, err error)
	Decode(inputToken []byte) (output []byte, err error)
}
