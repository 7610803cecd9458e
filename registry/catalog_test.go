package registry

import (
	"testing"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImplNames(t *testing.T) {
	impl := ImplOf(newDummy)

	assert.Equal(t, "registry.dummyMech", impl.String())
	assert.Equal(t, "github.com/golang-auth/go-saslmech/registry.dummyMech", impl.QualifiedName())
	assert.True(t, impl.Conforms())
	assert.False(t, impl.IsZero())

	assert.Equal(t, "<nil>", Impl{}.String())
	assert.True(t, Impl{}.IsZero())
}

func TestImplEqual(t *testing.T) {
	// equality is by type, not by constructor
	a := ImplOf(newDummy)
	b := ImplOf(func() *dummyMech { return &dummyMech{rand: 1} })

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(ImplOf(newOther)))

	// a value type and its pointer type are different types
	assert.False(t, a.Equal(ImplOf(func() dummyMech { return dummyMech{} })))
}

func TestImplInterfaceType(t *testing.T) {
	impl := ImplOf(func() common.Mech { return newDummy() })

	assert.True(t, impl.IsAbstract())
	assert.False(t, impl.Conforms(), "an interface is not a mechanism type")
	assert.False(t, ImplOf(newDummy).IsAbstract())

	r, err := New()
	require.NoError(t, err)
	err = r.Register("ABSTRACT", impl)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
	assert.ErrorContains(t, err, "interface")
	assert.Empty(t, r.Mechs())
}

func TestCatalogResolve(t *testing.T) {
	c := testCatalog(t)

	impl, err := c.Resolve("registry.dummyMech")
	require.NoError(t, err)
	assert.True(t, impl.Equal(ImplOf(newDummy)))

	impl, err = c.Resolve("github.com/golang-auth/go-saslmech/registry.otherMech")
	require.NoError(t, err)
	assert.True(t, impl.Equal(ImplOf(newOther)))

	_, err = c.Resolve("registry.DummyMech")
	assert.ErrorIs(t, err, common.ErrUnresolvedType)

	assert.Equal(t, []string{
		"github.com/golang-auth/go-saslmech/registry.dummyMech",
		"github.com/golang-auth/go-saslmech/registry.otherMech",
		"registry.dummyMech",
		"registry.otherMech",
	}, c.Refs())
}

func TestCatalogDeclare(t *testing.T) {
	c := NewTypeCatalog()

	assert.NoError(t, c.Declare("dummy", ImplOf(newDummy)))
	assert.NoError(t, c.Declare("dummy", ImplOf(newDummy)), "same type may be declared again")
	assert.ErrorIs(t, c.Declare("dummy", ImplOf(newOther)), common.ErrInvalidArgument)
	assert.ErrorIs(t, c.Declare("", ImplOf(newOther)), common.ErrInvalidArgument)
	assert.ErrorIs(t, c.Add(Impl{}), common.ErrInvalidArgument)
}
