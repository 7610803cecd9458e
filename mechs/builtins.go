// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package mechs

import (
	"github.com/golang-auth/go-saslmech/registry"
)

// Builtins returns the built-in mechanism catalogue, in preference order
func Builtins() []registry.Binding {
	return []registry.Binding{
		{Name: "Plain", Impl: registry.ImplOf(newPlainMech)},
		{Name: "Cram-Md5", Impl: registry.ImplOf(newCramMD5Mech)},
		{Name: "Digest-Md5", Impl: registry.ImplOf(newDigestMD5Mech)},
		{Name: "Scram-Sha-1", Impl: registry.ImplOf(newScramSHA1Mech)},
		{Name: "Ntlm", Impl: registry.ImplOf(newNTLMMech)},
		{Name: "Ntlmv2", Impl: registry.ImplOf(newNTLMv2Mech)},
		{Name: "OAuth", Impl: registry.ImplOf(newOAuthMech)},
		{Name: "OAuth2", Impl: registry.ImplOf(newOAuth2Mech)},
		{Name: "Srp", Impl: registry.ImplOf(newSRPMech)},
	}
}

// DeclareTypes makes the built-in mechanism types resolvable through c so
// provider declarations can bind them under additional names
func DeclareTypes(c *registry.TypeCatalog) error {
	for _, b := range Builtins() {
		if err := c.Add(b.Impl); err != nil {
			return err
		}
	}

	return nil
}
