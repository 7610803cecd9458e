// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package registry

import (
	"errors"
	"testing"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBuiltins = []Binding{
	{"Plain", ImplOf(newDummy)},
	{"Cram-Md5", ImplOf(newOther)},
}

func testCatalog(t *testing.T) *TypeCatalog {
	c := NewTypeCatalog()
	require.NoError(t, c.Add(ImplOf(newDummy)))
	require.NoError(t, c.Add(ImplOf(newOther)))
	return c
}

func staticSource(decls ...ProviderDeclaration) ProviderSource {
	return func() ([]ProviderDeclaration, error) {
		return decls, nil
	}
}

func TestSeedBuiltinsOnly(t *testing.T) {
	r, err := New(WithBuiltins(testBuiltins))
	require.NoError(t, err)

	assert.Equal(t, []string{"Plain", "Cram-Md5"}, r.Mechs())
	assert.Nil(t, r.Settings("plain"))
}

func TestSeedEmptySource(t *testing.T) {
	r, err := New(WithBuiltins(testBuiltins), WithProviderSource(staticSource()))
	require.NoError(t, err)
	assert.Len(t, r.Mechs(), 2)
}

func TestSeedProviders(t *testing.T) {
	r, err := New(
		WithBuiltins(testBuiltins),
		WithTypeResolver(testCatalog(t)),
		WithProviderSource(staticSource(
			ProviderDeclaration{Name: "X-FIRST", Type: "registry.otherMech", Settings: map[string]string{"a": "1"}},
			ProviderDeclaration{Name: "X-SECOND", Type: "github.com/golang-auth/go-saslmech/registry.dummyMech"},
		)),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"Plain", "Cram-Md5", "X-FIRST", "X-SECOND"}, r.Mechs())
	assert.Equal(t, map[string]string{"a": "1"}, r.Settings("x-first"))

	m, err := r.Create("x-first")
	require.NoError(t, err)
	assert.IsType(t, &otherMech{}, m)

	// providers can be added after seeding too
	require.NoError(t, r.RegisterProvider(ProviderDeclaration{Name: "X-THIRD", Type: "registry.dummyMech"}))
	assert.True(t, r.IsRegistered("X-THIRD"))
}

func TestSeedFailures(t *testing.T) {
	var tests = []struct {
		desc  string
		decls []ProviderDeclaration
		index int
		cause error
	}{
		{
			"collides with built-in",
			[]ProviderDeclaration{{Name: "PLAIN", Type: "registry.otherMech"}},
			0, common.ErrDuplicateMech,
		},
		{
			"collides with earlier provider",
			[]ProviderDeclaration{
				{Name: "X-ONE", Type: "registry.otherMech"},
				{Name: "x-one", Type: "registry.dummyMech"},
			},
			1, common.ErrRegistration,
		},
		{
			"unresolvable type",
			[]ProviderDeclaration{{Name: "X-ONE", Type: "no.suchType"}},
			0, common.ErrUnresolvedType,
		},
		{
			"empty name",
			[]ProviderDeclaration{{Name: "", Type: "registry.dummyMech"}},
			0, common.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		r, err := New(
			WithBuiltins(testBuiltins),
			WithTypeResolver(testCatalog(t)),
			WithProviderSource(staticSource(tt.decls...)),
		)
		assert.Nil(t, r, tt.desc)
		assert.ErrorIs(t, err, common.ErrSeed, tt.desc)
		assert.ErrorIs(t, err, tt.cause, tt.desc)

		var seedErr common.ErrSeedFailed
		if assert.ErrorAs(t, err, &seedErr, tt.desc) {
			assert.Equal(t, tt.index, seedErr.Index, tt.desc)
		}
	}
}

func TestSeedNonConformingType(t *testing.T) {
	c := testCatalog(t)
	require.NoError(t, c.Declare("bad", ImplOf(func() notAMech { return notAMech{} })))

	_, err := New(
		WithTypeResolver(c),
		WithProviderSource(staticSource(ProviderDeclaration{Name: "X-BAD", Type: "bad"})),
	)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestSeedBadBuiltin(t *testing.T) {
	_, err := New(WithBuiltins([]Binding{
		{"Plain", ImplOf(newDummy)},
		{"plain", ImplOf(newOther)},
	}))

	var seedErr common.ErrSeedFailed
	require.ErrorAs(t, err, &seedErr)
	assert.Equal(t, -1, seedErr.Index)
	assert.Equal(t, "plain", seedErr.Name)
}

func TestSeedSourceError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(WithProviderSource(func() ([]ProviderDeclaration, error) {
		return nil, boom
	}))

	assert.ErrorIs(t, err, common.ErrSeed)
	assert.ErrorIs(t, err, boom)
}

func TestSeedWithoutResolver(t *testing.T) {
	_, err := New(WithProviderSource(staticSource(ProviderDeclaration{Name: "X-ONE", Type: "registry.dummyMech"})))
	assert.ErrorIs(t, err, common.ErrUnresolvedType)
}

func TestMustNew(t *testing.T) {
	assert.NotPanics(t, func() { MustNew(WithBuiltins(testBuiltins)) })
	assert.Panics(t, func() {
		MustNew(WithBuiltins([]Binding{{"", ImplOf(newDummy)}}))
	})
}
