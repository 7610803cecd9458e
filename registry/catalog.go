// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/golang-auth/go-saslmech/common"
)

// TypeResolver turns a type reference string from a provider declaration
// into an Impl
type TypeResolver interface {
	Resolve(typeRef string) (Impl, error)
}

// TypeCatalog is a TypeResolver over a fixed set of declared types.  Go
// cannot look types up by name at run time, so every type a provider may
// refer to has to be added to the catalog first.
type TypeCatalog struct {
	mu    sync.RWMutex
	types map[string]Impl
}

func NewTypeCatalog() *TypeCatalog {
	return &TypeCatalog{
		types: make(map[string]Impl),
	}
}

// Add declares impl under its short and package qualified type names
func (c *TypeCatalog) Add(impl Impl) error {
	if impl.IsZero() {
		return fmt.Errorf("%w: nil implementation", common.ErrInvalidArgument)
	}

	if err := c.Declare(impl.String(), impl); err != nil {
		return err
	}

	if q := impl.QualifiedName(); q != impl.String() {
		return c.Declare(q, impl)
	}

	return nil
}

// Declare makes impl resolvable as ref.  A ref cannot be re-declared for a
// different type.
func (c *TypeCatalog) Declare(ref string, impl Impl) error {
	if ref == "" || impl.IsZero() {
		return fmt.Errorf("%w: empty type reference or nil implementation", common.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.types[ref]; ok && !existing.Equal(impl) {
		return fmt.Errorf("%w: type reference %q already refers to %s", common.ErrInvalidArgument, ref, existing)
	}

	c.types[ref] = impl
	return nil
}

func (c *TypeCatalog) Resolve(typeRef string) (Impl, error) {
	c.mu.RLock()
	impl, ok := c.types[typeRef]
	c.mu.RUnlock()

	if !ok {
		return Impl{}, fmt.Errorf("%w: %q", common.ErrUnresolvedType, typeRef)
	}

	return impl, nil
}

// Refs returns the declared type references in lexical order
func (c *TypeCatalog) Refs() []string {
	c.mu.RLock()
	refs := make([]string, 0, len(c.types))
	for ref := range c.types {
		refs = append(refs, ref)
	}
	c.mu.RUnlock()

	sort.Strings(refs)
	return refs
}
