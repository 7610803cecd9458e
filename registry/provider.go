// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package registry

import (
	"fmt"

	"github.com/golang-auth/go-saslmech/common"
)

// ProviderDeclaration describes a mechanism supplied from outside the
// built-in catalogue, usually read from a configuration file
type ProviderDeclaration struct {
	Name     string
	Type     string
	Settings map[string]string
}

// ProviderSource returns the provider declarations to merge into a
// registry, in the order they should be registered.  A source that is
// not configured returns no declarations and no error.
type ProviderSource func() ([]ProviderDeclaration, error)

// RegisterProvider resolves the type of decl and registers it, attaching
// the declaration's settings to the binding
func (r *Registry) RegisterProvider(decl ProviderDeclaration) error {
	if r.resolver == nil {
		return fmt.Errorf("%w: %q: no type resolver configured", common.ErrUnresolvedType, decl.Type)
	}

	impl, err := r.resolver.Resolve(decl.Type)
	if err != nil {
		return err
	}

	return r.register(decl.Name, impl, decl.Settings)
}

func (r *Registry) seed() error {
	for _, b := range r.builtins {
		if err := r.Register(b.Name, b.Impl); err != nil {
			return common.ErrSeedFailed{Index: -1, Name: b.Name, Cause: err}
		}
	}

	if r.source == nil {
		return nil
	}

	decls, err := r.source()
	if err != nil {
		return common.ErrSeedFailed{Index: -1, Cause: fmt.Errorf("reading provider declarations: %w", err)}
	}

	for i, decl := range decls {
		if err := r.RegisterProvider(decl); err != nil {
			return common.ErrSeedFailed{Index: i, Name: decl.Name, Cause: err}
		}
		r.Infof("registry: added provider mechanism %s (%s)", decl.Name, decl.Type)
	}

	return nil
}
