// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package registry

import (
	"fmt"
	"maps"
	"regexp"
	"sync"

	"golang.org/x/text/cases"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/golang-auth/go-saslmech/pkg/loggable"
)

// See RFC 4422 § 3.1.  Names are compared without regard to case so the
// character class is too.
var saslMechRegexp = regexp.MustCompile(`(?i)^[A-Z0-9-_]{1,20}$`)

// Binding is a named mechanism implementation
type Binding struct {
	Name string
	Impl Impl
}

type entry struct {
	Binding
	settings map[string]string
}

// Registry maps mechanism names to implementations.  Names are matched
// case-insensitively and a name can be bound only once.  A Registry is
// safe for concurrent use.
type Registry struct {
	loggable.Loggable

	mu    sync.RWMutex
	mechs map[string]entry
	order []string

	builtins    []Binding
	source      ProviderSource
	resolver    TypeResolver
	strictNames bool
}

type Option func(*Registry) error

// WithBuiltins sets the bindings that seed the registry before any
// provider declarations are merged
func WithBuiltins(b []Binding) Option {
	return func(r *Registry) error {
		r.builtins = b
		return nil
	}
}

// WithProviderSource sets the source of additional, externally declared
// mechanisms
func WithProviderSource(src ProviderSource) Option {
	return func(r *Registry) error {
		r.source = src
		return nil
	}
}

// WithTypeResolver sets the resolver used to turn the type reference of
// a provider declaration into an Impl
func WithTypeResolver(tr TypeResolver) Option {
	return func(r *Registry) error {
		r.resolver = tr
		return nil
	}
}

// WithStrictNames makes Register refuse names that do not follow the
// RFC 4422 mechanism name grammar
func WithStrictNames() Option {
	return func(r *Registry) error {
		r.strictNames = true
		return nil
	}
}

func WithLogger(opts ...loggable.LoggableOption) Option {
	return func(r *Registry) error {
		for _, o := range opts {
			if err := o(&r.Loggable); err != nil {
				return err
			}
		}
		return nil
	}
}

// New returns a registry seeded with the configured built-ins and then
// with the declarations of the provider source.  Any failure while seeding
// is returned as an ErrSeedFailed and no registry is returned.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		mechs: make(map[string]entry),
	}

	for _, o := range opts {
		if err := o(r); err != nil {
			return nil, err
		}
	}

	if err := r.seed(); err != nil {
		return nil, err
	}

	return r, nil
}

// MustNew is like New but panics if the registry cannot be seeded
func MustNew(opts ...Option) *Registry {
	r, err := New(opts...)
	if err != nil {
		panic(err)
	}

	return r
}

func key(name string) string {
	return cases.Fold().String(name)
}

// Register binds name to impl.  It fails with ErrInvalidArgument when name
// is empty (or, with WithStrictNames, not a valid mechanism name) or impl
// is not a conforming reference,
// and with ErrRegistrationFailed when the name is already bound.
func (r *Registry) Register(name string, impl Impl) error {
	return r.register(name, impl, nil)
}

func (r *Registry) register(name string, impl Impl, settings map[string]string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: mechanism name must not be empty", common.ErrInvalidArgument)
	case r.strictNames && !saslMechRegexp.MatchString(name):
		return fmt.Errorf("%w: bad mechanism name %q", common.ErrInvalidArgument, name)
	case impl.IsZero():
		return fmt.Errorf("%w: nil implementation for mechanism %q", common.ErrInvalidArgument, name)
	case impl.IsAbstract():
		return fmt.Errorf("%w: %s is an interface, not a mechanism type", common.ErrInvalidArgument, impl)
	case !impl.Conforms():
		return fmt.Errorf("%w: type %s does not implement common.Mech", common.ErrInvalidArgument, impl)
	}

	k := key(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	// can't register two mechs with the same name
	if existing, ok := r.mechs[k]; ok {
		return common.ErrRegistrationFailed{
			Name:  name,
			Cause: fmt.Errorf("%w: %q (%s)", common.ErrDuplicateMech, existing.Name, existing.Impl),
		}
	}

	r.mechs[k] = entry{
		Binding:  Binding{Name: name, Impl: impl},
		settings: maps.Clone(settings),
	}
	r.order = append(r.order, k)

	r.Debugf("registry: registered mechanism %s (%s)", name, impl)
	return nil
}

func (r *Registry) lookup(name string) (entry, bool) {
	if name == "" {
		return entry{}, false
	}

	k := key(name)

	r.mu.RLock()
	e, ok := r.mechs[k]
	r.mu.RUnlock()

	return e, ok
}

// IsRegistered can be used to find out whether a named
// mechanism is registered or not
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.lookup(name)

	return ok
}

// Binding returns the binding for name as it was registered
func (r *Registry) Binding(name string) (Binding, bool) {
	e, ok := r.lookup(name)

	return e.Binding, ok
}

// Settings returns a copy of the provider settings attached to the named
// mechanism.  Built-in mechanisms have none.
func (r *Registry) Settings(name string) map[string]string {
	e, _ := r.lookup(name)

	return maps.Clone(e.settings)
}

// Create returns a new, unconfigured instance of the named mechanism.
// Every call returns a distinct instance.
func (r *Registry) Create(name string) (common.Mech, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrNotRegistered, name)
	}

	// the lock is not held here; constructors may be slow
	m, err := e.Impl.instantiate()
	if err != nil {
		return nil, fmt.Errorf("%w: %q (%s)", err, e.Name, e.Impl)
	}

	return m, nil
}

// NewMech returns a mechanism context by name, configured with cfg.  Any
// provider settings of the mechanism are added to cfg.ExtraProps unless
// cfg already has a value for the same key.
func (r *Registry) NewMech(name string, cfg common.MechConfig) (common.Mech, error) {
	m, err := r.Create(name)
	if err != nil {
		return nil, err
	}

	if settings := r.Settings(name); len(settings) > 0 {
		extra := make(map[string]string, len(settings)+len(cfg.ExtraProps))
		maps.Copy(extra, settings)
		maps.Copy(extra, cfg.ExtraProps)
		cfg.ExtraProps = extra
	}

	if err = m.Configure(cfg); err != nil {
		return nil, fmt.Errorf("configuring mechanism %s: %w", name, err)
	}

	return m, nil
}

// Mechs returns the list of registered mechanism names in the order they
// were registered, with the case they were registered with
func (r *Registry) Mechs() (l []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l = make([]string, 0, len(r.order))

	for _, k := range r.order {
		l = append(l, r.mechs[k].Name)
	}

	return
}
