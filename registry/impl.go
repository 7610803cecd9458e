// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package registry

import (
	"reflect"
	"strings"

	"github.com/golang-auth/go-saslmech/common"
)

var mechType = reflect.TypeOf((*common.Mech)(nil)).Elem()

// Impl is a reference to a constructible mechanism type.  The zero
// value is the nil reference and is never accepted by Register.
type Impl struct {
	typ      reflect.Type
	conforms bool
	newFn    func() any
}

// ImplOf returns a reference to the type T, built by ctor.  ctor may be an
// unexported function of the package that defines T.  Whether T satisfies
// common.Mech is recorded here and enforced when the reference is
// registered.  T must be concrete: references are compared by T, so an
// interface T never conforms.
func ImplOf[T any](ctor func() T) Impl {
	if ctor == nil {
		return Impl{}
	}

	t := reflect.TypeOf((*T)(nil)).Elem()

	return Impl{
		typ:      t,
		conforms: t.Kind() != reflect.Interface && t.Implements(mechType),
		newFn:    func() any { return ctor() },
	}
}

// IsAbstract reports whether the referenced type is an interface
func (i Impl) IsAbstract() bool {
	return i.typ != nil && i.typ.Kind() == reflect.Interface
}

// IsZero reports whether i is the nil reference
func (i Impl) IsZero() bool {
	return i.newFn == nil
}

// Conforms reports whether the referenced type satisfies common.Mech
func (i Impl) Conforms() bool {
	return i.conforms
}

// Equal reports whether i and o refer to the same type
func (i Impl) Equal(o Impl) bool {
	return i.typ == o.typ
}

// String returns the short type name, eg. "mechs.plainMech"
func (i Impl) String() string {
	if i.typ == nil {
		return "<nil>"
	}

	return strings.TrimLeft(i.typ.String(), "*")
}

// QualifiedName returns the type name qualified by its full package path,
// eg. "github.com/golang-auth/go-saslmech/mechs.plainMech"
func (i Impl) QualifiedName() string {
	t := i.typ
	if t == nil {
		return ""
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.PkgPath() == "" || t.Name() == "" {
		return i.String()
	}

	return t.PkgPath() + "." + t.Name()
}

func (i Impl) instantiate() (common.Mech, error) {
	v := i.newFn()

	m, ok := v.(common.Mech)
	if !ok || m == nil {
		return nil, common.ErrInstantiation
	}

	// a typed nil pointer is as useless as an untyped one
	if rv := reflect.ValueOf(m); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, common.ErrInstantiation
	}

	return m, nil
}
