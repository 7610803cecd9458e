// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package mechs holds the built-in SASL client mechanisms and the
// catalogue that binds them to their registered names.
package mechs

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/golang-auth/go-saslmech/pkg/loggable"
)

// mechBase is embedded by mechanisms that never negotiate a security
// layer
type mechBase struct {
	loggable.Loggable
	config      common.MechConfig
	configured  bool
	established bool
}

func (m *mechBase) configure(cfg common.MechConfig) {
	m.Loggable = cfg.Logger
	m.config = cfg
	m.configured = true
}

func (m *mechBase) checkStep(name string) error {
	if !m.configured {
		return fmt.Errorf("%s: %w", name, common.ErrNotConfigured)
	}
	if m.established {
		return common.ErrAlreadyEstablished
	}

	return nil
}

func (m *mechBase) IsEstablished() bool {
	return m.established
}

func (m *mechBase) ContextParams() common.ContextParams {
	return common.ContextParams{}
}

func (m *mechBase) Encode([]byte) ([]byte, error) {
	return nil, fmt.Errorf("can't encode data: %w", common.ErrNoSecurityLayer)
}

func (m *mechBase) Decode([]byte) ([]byte, error) {
	return nil, fmt.Errorf("can't decode data: %w", common.ErrNoSecurityLayer)
}

func requireCreds(name string, creds ...string) error {
	for _, c := range creds {
		if c == "" {
			return fmt.Errorf("%s: %w", name, common.ErrMissingCredentials)
		}
	}

	return nil
}

// randomNonce returns n random bytes, base64 encoded
func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawStdEncoding.EncodeToString(b), nil
}
