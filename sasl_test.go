package sasl

import (
	"log"
	"os"
	"strings"
	"testing"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/golang-auth/go-saslmech/mechs"
	"github.com/golang-auth/go-saslmech/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func builtinRegistry(t *testing.T) *registry.Registry {
	r, err := registry.New(registry.WithBuiltins(mechs.Builtins()))
	require.NoError(t, err)
	return r
}

func TestWithServerFQDN(t *testing.T) {
	cli := SaslClient{}

	opt := WithServerFQDN("foo.bar.com")
	assert.NoError(t, opt(&cli), "foo.bar.com is a valid hostname")
	assert.Equal(t, "foo.bar.com", cli.serverFQDN)

	opt = WithServerFQDN("foo")
	assert.NoError(t, opt(&cli), "foo is a valid hostname")
	assert.Equal(t, "foo", cli.serverFQDN)

	opt = WithServerFQDN("invalid-.hostname")
	assert.Error(t, opt(&cli), "invalid-.hostname is not a valid hostname")
}

func TestWithRegistry(t *testing.T) {
	cli := SaslClient{}
	assert.ErrorIs(t, WithRegistry(nil)(&cli), common.ErrInvalidArgument)
}

func TestLogging(t *testing.T) {
	sb := strings.Builder{}
	loggerD := log.New(&sb, "testD: ", 0)
	loggerI := log.New(&sb, "testI: ", 0)
	loggerW := log.New(&sb, "testW: ", 0)
	loggerE := log.New(&sb, "testE: ", 0)

	cli, err := NewSaslClient("imap",
		WithRegistry(builtinRegistry(t)),
		WithDebugLogger(loggerD),
		WithInfoLogger(loggerI),
		WithWarnLogger(loggerW),
		WithErrorLogger(loggerE),
	)
	assert.NoError(t, err)
	cli.Debugf("debug testing 1 2 3")
	cli.Infof("info testing 1 2 3")
	cli.Warnf("warn testing 1 2 3")
	cli.Errorf("error testing 1 2 3")

	assert.Contains(t, sb.String(), "testD: debug testing 1 2 3\n")
	assert.Contains(t, sb.String(), "testI: info testing 1 2 3\n")
	assert.Contains(t, sb.String(), "testW: warn testing 1 2 3\n")
	assert.Contains(t, sb.String(), "testE: error testing 1 2 3\n")
}

func TestZapLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	_, err := NewSaslClient("imap",
		WithRegistry(builtinRegistry(t)),
		WithZapLogger(zap.New(core)),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("using all registered mechs").Len())
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Same(t, r, DefaultRegistry())

	for _, b := range mechs.Builtins() {
		assert.True(t, r.IsRegistered(b.Name), b.Name)
	}

	types, err := DefaultTypes()
	require.NoError(t, err)
	assert.Contains(t, types.Refs(), "gssapi.GSSAPIMech")
	assert.Contains(t, types.Refs(), "mechs.plainMech")
}

func TestDefaultRegistrySeedFailure(t *testing.T) {
	calls := 0
	get := onceRegistry(func() (*registry.Registry, error) {
		calls++
		return registry.New(registry.WithBuiltins([]registry.Binding{
			{Name: "PLAIN", Impl: registry.ImplOf(newMockMech1)},
			{Name: "plain", Impl: registry.ImplOf(newMockMech2)},
		}))
	})

	for range 2 {
		func() {
			defer func() {
				err, ok := recover().(error)
				require.True(t, ok, "seeding failure must panic with the error")
				assert.ErrorIs(t, err, common.ErrSeed)
			}()
			r := get()
			t.Errorf("got registry %v after a failed seed", r)
		}()
	}
	assert.Equal(t, 1, calls)
}

func TestNewSaslClientMechs(t *testing.T) {
	l := log.New(os.Stderr, "unittest: ", 0)
	opts := []SaslClientOption{
		WithRegistry(builtinRegistry(t)),
		WithDebugLogger(l), WithInfoLogger(l), WithWarnLogger(l), WithErrorLogger(l),
	}

	// use default mech list
	cli1, err := NewSaslClient("imap", opts...)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Plain", "Cram-Md5", "Digest-Md5", "Scram-Sha-1", "Ntlm", "Ntlmv2", "OAuth", "OAuth2", "Srp"}, cli1.mechList)

	// specify some good, some bad mechs - expect just the good ones back
	opts2 := append(opts, WithMechList([]string{"PLAIN", "foo"}))
	cli2, err := NewSaslClient("imap", opts2...)
	assert.NoError(t, err)
	assert.Equal(t, []string{"PLAIN"}, cli2.mechList)

	// specify all bad mechs - expect error
	opts3 := append(opts, WithMechList([]string{"foo", "bar"}))
	_, err = NewSaslClient("imap", opts3...)
	assert.ErrorIs(t, err, common.ErrNoMech)
}

type mockMech struct {
}

func (m mockMech) Name() string {
	return "MOCK"
}
func (m mockMech) MechProperties() common.MechProps {
	return common.MechProps{}
}
func (m mockMech) Configure(common.MechConfig) error {
	return nil
}
func (m mockMech) IsEstablished() bool {
	return false
}
func (m mockMech) Step(inToken []byte) (outToken []byte, err error) {
	return nil, nil
}
func (m mockMech) ContextParams() common.ContextParams {
	return common.ContextParams{}
}
func (m mockMech) Encode([]byte) ([]byte, error) {
	return nil, nil
}
func (m mockMech) Decode([]byte) ([]byte, error) {
	return nil, nil
}

type mockMech1 struct {
	mockMech
}

func (m mockMech1) MechProperties() common.MechProps {
	return common.MechProps{
		MaxSSF:             256,
		SecurityProperties: common.SecNoPlainText | common.SecNoActive | common.SecNoAnonymous | common.SecMutualAuth | common.SecPassCredentials,
		Features:           common.FeatWantClientFirst | common.FeatDontUseUserPassword,
	}
}

type mockMech2 struct {
	mockMech
}

func (m mockMech2) MechProperties() common.MechProps {
	return common.MechProps{
		MaxSSF:             0,
		SecurityProperties: common.SecNoAnonymous | common.SecPassCredentials,
		Features:           common.FeatWantClientFirst,
	}
}

type mockMech3 struct {
	mockMech
}

func (m mockMech3) MechProperties() common.MechProps {
	return common.MechProps{
		MaxSSF:             10,
		SecurityProperties: common.SecNoPlainText | common.SecNoAnonymous | common.SecPassCredentials,
		Features:           common.FeatWantClientFirst,
	}
}

func newMockMech1() *mockMech1 {
	return &mockMech1{}
}
func newMockMech2() *mockMech2 {
	return &mockMech2{}
}
func newMockMech3() *mockMech3 {
	return &mockMech3{}
}

func TestSaslClientStart(t *testing.T) {
	r, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, r.Register("MECH1", registry.ImplOf(newMockMech1)))
	require.NoError(t, r.Register("MECH2", registry.ImplOf(newMockMech2)))
	require.NoError(t, r.Register("MECH3", registry.ImplOf(newMockMech3)))

	// try with all 3 mechs and no external layer, default options
	// should choose MECH1
	cli, err := NewSaslClient("imap", WithRegistry(r), WithMechList([]string{"MECH1", "MECH2", "MECH3"}))
	assert.NoError(t, err)
	_, err = cli.Start()
	assert.NoError(t, err)
	assert.IsType(t, &mockMech1{}, cli.mech, "MECH1 is preferred")

	// same but with a difference preference order.  MECH3 should be chosen because
	// it supports the default security requirements
	cli, err = NewSaslClient("imap", WithRegistry(r), WithMechList([]string{"MECH2", "MECH3", "MECH1"}))
	assert.NoError(t, err)
	_, err = cli.Start()
	assert.NoError(t, err)
	assert.IsType(t, &mockMech3{}, cli.mech, "MECH3 is preferred")

	// same but with a min-ssf 20 - should choose MECH1
	cli, err = NewSaslClient("imap", WithRegistry(r),
		WithMechList([]string{"MECH2", "MECH3", "MECH1"}),
		WithMinSSF(20))
	assert.NoError(t, err)
	_, err = cli.Start()
	assert.NoError(t, err)
	assert.IsType(t, &mockMech1{}, cli.mech)

	// same but assume we have an external layer with SSF 15, should choose MECH3 again
	// because the new mech only needs to provide 5 'ssf units'
	cli, err = NewSaslClient("imap", WithRegistry(r),
		WithMechList([]string{"MECH2", "MECH3", "MECH1"}),
		WithMinSSF(20), WithExternalSSF(15))
	assert.NoError(t, err)
	_, err = cli.Start()
	assert.NoError(t, err)
	assert.IsType(t, &mockMech3{}, cli.mech)

	// now set the external SSF to 25;  MECH2 is now preferred because we no longer need
	// the SecNoPlainText property
	cli, err = NewSaslClient("imap", WithRegistry(r),
		WithMechList([]string{"MECH2", "MECH3", "MECH1"}),
		WithMinSSF(20), WithExternalSSF(25))
	assert.NoError(t, err)
	_, err = cli.Start()
	assert.NoError(t, err)
	assert.IsType(t, &mockMech2{}, cli.mech)
}

func TestSaslClientChannelBindings(t *testing.T) {
	r, err := registry.New()
	require.NoError(t, err)
	require.NoError(t, r.Register("MECH1", registry.ImplOf(newMockMech1)))

	cli, err := NewSaslClient("imap", WithRegistry(r),
		WithChannelBindings(common.ChannelBinding{Critical: true, Data: []byte("tls-unique")}))
	require.NoError(t, err)
	_, err = cli.Start()
	assert.ErrorIs(t, err, common.ErrNoMech)
}

// RFC 2195 § 2
func TestSaslClientCramMD5(t *testing.T) {
	cli, err := NewSaslClient("imap",
		WithRegistry(builtinRegistry(t)),
		WithAuthID("tim", ""),
		WithPassword("tanstaaftanstaaf"),
	)
	require.NoError(t, err)

	_, err = cli.Step(nil)
	assert.ErrorIs(t, err, common.ErrNotStarted)

	// PLAIN does not meet the default security properties
	out, err := cli.Start()
	require.NoError(t, err)
	assert.Nil(t, out, "CRAM-MD5 is server first")
	assert.Equal(t, "CRAM-MD5", cli.MechName())

	_, err = cli.ContextParams()
	assert.ErrorIs(t, err, common.ErrNotEstablished)

	out, err = cli.Step([]byte("<1896.697170952@postoffice.reston.mci.net>"))
	require.NoError(t, err)
	assert.Equal(t, "tim b913a602c7eda7a495b4e6e7334d3890", string(out))
	assert.True(t, cli.IsEstablished())

	_, err = cli.Step([]byte("again"))
	assert.ErrorIs(t, err, common.ErrAlreadyEstablished)

	params, err := cli.ContextParams()
	require.NoError(t, err)
	assert.Zero(t, params.SSF)

	// no security layer, data passes through
	enc, err := cli.Encode([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), enc)
	dec, err := cli.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), dec)
}

func TestSaslClientProviderSettings(t *testing.T) {
	types, err := DefaultTypes()
	require.NoError(t, err)

	r, err := registry.New(
		registry.WithTypeResolver(types),
		registry.WithProviderSource(func() ([]registry.ProviderDeclaration, error) {
			return []registry.ProviderDeclaration{{
				Name:     "SITE-PLAIN",
				Type:     "mechs.plainMech",
				Settings: map[string]string{"authid": "alice", "password": "secret"},
			}}, nil
		}),
	)
	require.NoError(t, err)

	cli, err := NewSaslClient("smtp", WithRegistry(r), WithSecurityProps(common.SecNoAnonymous))
	require.NoError(t, err)

	out, err := cli.Start()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00alice\x00secret"), out)
	assert.Equal(t, "PLAIN", cli.MechName())
	assert.True(t, cli.IsEstablished())
}

func TestSaslClientMissingCredentials(t *testing.T) {
	cli, err := NewSaslClient("imap", WithRegistry(builtinRegistry(t)), WithMechList([]string{"CRAM-MD5"}))
	require.NoError(t, err)

	_, err = cli.Start()
	assert.ErrorIs(t, err, common.ErrMissingCredentials)
	assert.Empty(t, cli.MechName())
}
