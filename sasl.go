// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package sasl

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/golang-auth/go-saslmech/common"
	"github.com/golang-auth/go-saslmech/config"
	"github.com/golang-auth/go-saslmech/gssapi"
	"github.com/golang-auth/go-saslmech/mechs"
	"github.com/golang-auth/go-saslmech/pkg/loggable"
	"github.com/golang-auth/go-saslmech/registry"
)

var defaultRegistry = onceRegistry(newDefaultRegistry)

// DefaultTypes returns a type catalogue holding every mechanism type this
// module provides
func DefaultTypes() (*registry.TypeCatalog, error) {
	c := registry.NewTypeCatalog()

	if err := mechs.DeclareTypes(c); err != nil {
		return nil, err
	}
	if err := gssapi.DeclareTypes(c); err != nil {
		return nil, err
	}

	return c, nil
}

func newDefaultRegistry() (*registry.Registry, error) {
	types, err := DefaultTypes()
	if err != nil {
		return nil, err
	}

	return registry.New(
		registry.WithBuiltins(mechs.Builtins()),
		registry.WithTypeResolver(types),
		registry.WithProviderSource(config.DefaultProviderSource()),
	)
}

// onceRegistry runs newFn at most once.  A seeding error is kept and
// raised again on every call, so no caller ever gets a nil registry.
func onceRegistry(newFn func() (*registry.Registry, error)) func() *registry.Registry {
	get := sync.OnceValues(newFn)

	return func() *registry.Registry {
		r, err := get()
		if err != nil {
			panic(err)
		}

		return r
	}
}

// DefaultRegistry returns the process wide registry.  It is seeded on first
// use from the built-in catalogue and then from the file named by the
// SASL_CONFIG environment variable.  It panics if seeding fails, on the
// first and every later call.
func DefaultRegistry() *registry.Registry {
	return defaultRegistry()
}

type SaslClientOption func(*SaslClient) error

type SaslClient struct {
	loggable.Loggable

	registry *registry.Registry
	mech     common.Mech

	service         string
	mechList        []string
	serverFQDN      string
	minSSF          uint
	maxSSF          uint
	maxBufSize      uint // max the client can receive
	secProps        common.SecurityFlag
	extProps        externalProperties
	needHTTP        bool
	channelBindings *common.ChannelBinding
	extraProps      map[string]string
	creds           credentials
}

type externalProperties struct {
	ssf uint
}

type credentials struct {
	authID   string
	authzID  string
	password string
	domain   string
	token    string
}

type channelBindingDisposition int

const (
	channelBindingDispNone channelBindingDisposition = iota
	channelBindingDispWant
	channelBindingDispMust
)

func NewSaslClient(service string, opts ...SaslClientOption) (client SaslClient, err error) {
	client = SaslClient{
		service:    service,
		secProps:   common.SecNoAnonymous | common.SecNoPlainText,
		maxBufSize: 65536,
		maxSSF:     ^uint(0),
		extraProps: make(map[string]string),
	}

	for _, o := range opts {
		if err = o(&client); err != nil {
			return
		}
	}

	if client.registry == nil {
		client.registry = DefaultRegistry()
	}

	if len(client.mechList) > 0 {
		// trim the mech list to only those that are registered
		var newMechList []string

		for _, name := range client.mechList {
			if client.registry.IsRegistered(name) {
				newMechList = append(newMechList, name)
			}
		}

		client.mechList = newMechList
		client.Debugf("using specified registered mechs: [%s]", strings.Join(client.mechList, ", "))
	} else {
		// default to all registered mechs
		client.mechList = client.registry.Mechs()
		client.Debugf("using all registered mechs: [%s]", strings.Join(client.mechList, ", "))
	}

	if len(client.mechList) == 0 {
		err = common.ErrNoMech
	}

	return client, err
}

// WithRegistry selects the registry mechanisms are looked up in instead of
// the default one
func WithRegistry(r *registry.Registry) SaslClientOption {
	return func(c *SaslClient) error {
		if r == nil {
			return fmt.Errorf("%w: nil registry", common.ErrInvalidArgument)
		}

		c.registry = r
		return nil
	}
}

var validHostnameRegex = regexp.MustCompile(`^(([a-zA-Z0-9]|[a-zA-Z0-9][a-zA-Z0-9\-]*[a-zA-Z0-9])\.)*([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9\-]*[A-Za-z0-9])$`)

func WithServerFQDN(fqdn string) SaslClientOption {
	return func(c *SaslClient) error {
		if fqdn != "" {
			if !validHostnameRegex.Match([]byte(fqdn)) {
				return errors.New("bad hostname")
			}

			c.serverFQDN = fqdn
		}

		return nil
	}
}

func WithMechList(mechs []string) SaslClientOption {
	return func(c *SaslClient) error {
		if len(mechs) > 0 {
			c.mechList = mechs
		}

		return nil
	}
}

func WithMinSSF(ssf uint) SaslClientOption {
	return func(c *SaslClient) error {
		c.minSSF = ssf
		return nil
	}
}

func WithMaxSSF(ssf uint) SaslClientOption {
	return func(c *SaslClient) error {
		c.maxSSF = ssf
		return nil
	}
}

// WithExternalSSF records the strength of a security layer already in
// place below SASL, eg. TLS
func WithExternalSSF(ssf uint) SaslClientOption {
	return func(c *SaslClient) error {
		c.extProps.ssf = ssf
		return nil
	}
}

func WithNeedHTTP() SaslClientOption {
	return func(c *SaslClient) error {
		c.needHTTP = true
		return nil
	}
}

func WithChannelBindings(cb common.ChannelBinding) SaslClientOption {
	return func(c *SaslClient) error {
		c.channelBindings = &cb
		return nil
	}
}

func WithMaxBufSize(size uint) SaslClientOption {
	return func(c *SaslClient) error {
		c.maxBufSize = size
		return nil
	}
}

func WithSecurityProps(props common.SecurityFlag) SaslClientOption {
	return func(c *SaslClient) error {
		c.secProps = props & (common.SecNoPlainText | common.SecNoActive | common.SecNoDictionary | common.SecForwardSecrecy | common.SecNoAnonymous | common.SecPassCredentials | common.SecMutualAuth)
		return nil
	}
}

func WithExtraProps(key, value string) SaslClientOption {
	return func(c *SaslClient) error {
		c.extraProps[key] = value
		return nil
	}
}

// WithAuthID sets the authentication identity and, optionally, the
// identity to act as
func WithAuthID(authID, authzID string) SaslClientOption {
	return func(c *SaslClient) error {
		c.creds.authID = authID
		c.creds.authzID = authzID
		return nil
	}
}

func WithPassword(password string) SaslClientOption {
	return func(c *SaslClient) error {
		c.creds.password = password
		return nil
	}
}

func WithDomain(domain string) SaslClientOption {
	return func(c *SaslClient) error {
		c.creds.domain = domain
		return nil
	}
}

// WithToken sets the bearer token used by the OAuth mechanisms
func WithToken(token string) SaslClientOption {
	return func(c *SaslClient) error {
		c.creds.token = token
		return nil
	}
}

func WithDebugLogger(l *log.Logger) SaslClientOption {
	return func(c *SaslClient) error {
		return loggable.WithDebugLogger(l)(&c.Loggable)
	}
}
func WithInfoLogger(l *log.Logger) SaslClientOption {
	return func(c *SaslClient) error {
		return loggable.WithInfoLogger(l)(&c.Loggable)
	}
}
func WithWarnLogger(l *log.Logger) SaslClientOption {
	return func(c *SaslClient) error {
		return loggable.WithWarnLogger(l)(&c.Loggable)
	}
}
func WithErrorLogger(l *log.Logger) SaslClientOption {
	return func(c *SaslClient) error {
		return loggable.WithErrorLogger(l)(&c.Loggable)
	}
}
func WithZapLogger(l *zap.Logger) SaslClientOption {
	return func(c *SaslClient) error {
		return loggable.WithZapLogger(l)(&c.Loggable)
	}
}

func (c SaslClient) IsEstablished() bool {
	if c.mech != nil {
		return c.mech.IsEstablished()
	} else {
		return false
	}
}

// mechProps asks a fresh, unconfigured instance for its properties
func (c *SaslClient) mechProps(name string) (common.MechProps, bool) {
	m, err := c.registry.Create(name)
	if err != nil {
		c.Warnf("cannot create mech %s: %s", name, err)
		return common.MechProps{}, false
	}

	return m.MechProperties(), true
}

func (c *SaslClient) Start() (outToken []byte, err error) {
	c.mech = nil

	// how much 'extra ssf' do we need if we take the external layer into account?
	var minSSF uint
	if c.minSSF < c.extProps.ssf {
		minSSF = 0
	} else {
		minSSF = c.minSSF - c.extProps.ssf
	}

	cbDisposition, err := c.channelBindingDisposition()
	if err != nil {
		return nil, err
	}

	// find the first mech that matches the security requirements
	var chosenMech string
	for _, mech := range c.mechList {
		mechProps, ok := c.mechProps(mech)
		if !ok {
			continue
		}

		// discard if the mech does not meet the min SSF requirement
		if minSSF > mechProps.MaxSSF {
			c.Debugf("mech %s max SSF (%d) too low (want %d)", mech, mechProps.MaxSSF, minSSF)
			continue
		}

		wantSecProps := c.secProps
		if (c.extProps.ssf > c.minSSF) && (c.extProps.ssf > 1) {
			c.Debugf("mech %s (max SSF %d) upgraded to non-plaintext (external SSF: %d)", mech, mechProps.MaxSSF, c.extProps.ssf)
			wantSecProps &^= common.SecNoPlainText
		}

		// does mech meet security requirements?
		if ((wantSecProps ^ mechProps.SecurityProperties) & wantSecProps) != 0 {
			c.Debugf("mech %s does not meet security requirements", mech)
			continue
		}

		// does our configuration meet the mech's feature requirements?

		if cbDisposition == channelBindingDispMust && (mechProps.Features&common.FeatChannelBindings == 0) {
			c.Debugf("mech %s does not support channel bindings", mech)
			continue
		}

		if (mechProps.Features&common.FeatNeedServerFQDN != 0) && c.serverFQDN == "" {
			c.Debugf("mech %s requires server FQDN", mech)
			continue
		}

		// do the mech's features cover the required features?
		if c.needHTTP && (mechProps.Features&common.FeatSupportsHTTP == 0) {
			c.Debugf("mech %s does not support HTTP", mech)
			continue
		}

		// this looks like a good fit..
		chosenMech = mech
		break
	}

	if chosenMech == "" {
		return nil, common.ErrNoMech
	}

	c.Debugf("Chose mech %s", chosenMech)

	// Create an instance of the chosen mech
	cfg := common.MechConfig{
		Logger:         c.Loggable,
		Service:        c.service,
		ServerFQDN:     c.serverFQDN,
		MinSSF:         c.minSSF,
		MaxSSF:         c.maxSSF,
		MaxBufSize:     c.maxBufSize,
		ExternalSSF:    c.extProps.ssf,
		SecProps:       c.secProps,
		HTTPMode:       c.needHTTP,
		ExtraProps:     c.extraProps,
		ChannelBinding: c.channelBindings,
		AuthID:         c.creds.authID,
		AuthzID:        c.creds.authzID,
		Password:       c.creds.password,
		Domain:         c.creds.domain,
		Token:          c.creds.token,
	}

	mech, err := c.registry.NewMech(chosenMech, cfg)
	if err != nil {
		return nil, err
	}
	c.mech = mech

	// Don't return a token if the mech wants the server to go first
	if c.mech.MechProperties().Features&common.FeatServerFirst != 0 {
		return nil, nil
	}

	// otherwise execute the first step
	return c.Step(nil)
}

// MechName returns the name of the mechanism chosen by Start
func (c SaslClient) MechName() string {
	if c.mech == nil {
		return ""
	}

	return c.mech.Name()
}

func (c *SaslClient) Step(inToken []byte) (outToken []byte, err error) {
	if c.mech == nil {
		return nil, common.ErrNotStarted
	}

	if c.IsEstablished() {
		return nil, common.ErrAlreadyEstablished
	}

	return c.mech.Step(inToken)
}

func (c SaslClient) ContextParams() (params common.ContextParams, err error) {
	if c.mech == nil {
		err = common.ErrNotStarted
		return
	}

	if !c.IsEstablished() {
		err = common.ErrNotEstablished
		return
	}

	return c.mech.ContextParams(), nil
}

func (c *SaslClient) Encode(input []byte) (outToken []byte, err error) {
	if c.mech == nil {
		return nil, common.ErrNotStarted
	}

	if !c.IsEstablished() {
		return nil, common.ErrNotEstablished
	}

	// output is the same as input if there is no negotiated security layer
	if c.mech.ContextParams().SSF == 0 {
		outToken = input
	} else {
		outToken, err = c.mech.Encode(input)
	}

	return
}

func (c *SaslClient) Decode(inputToken []byte) (output []byte, err error) {
	if c.mech == nil {
		return nil, common.ErrNotStarted
	}

	if !c.IsEstablished() {
		return nil, common.ErrNotEstablished
	}

	// output is the same as input if there is no negotiated security layer
	if c.mech.ContextParams().SSF == 0 {
		output = inputToken
	} else {
		output, err = c.mech.Decode(inputToken)
	}

	return
}

func (c *SaslClient) supportsChannelBindings() bool {
	for _, mech := range c.mechList {
		if props, ok := c.mechProps(mech); ok && props.Features&common.FeatChannelBindings > 0 {
			return true
		}
	}

	return false
}

func (c *SaslClient) channelBindingDisposition() (disp channelBindingDisposition, err error) {
	disp = channelBindingDispNone
	if c.channelBindings == nil {
		c.Debugf("no channel binding requested")
		return
	}

	switch {
	// if negotiating mechs..
	case len(c.mechList) > 0:
		// error if we require CB and the server doesn't support it
		if !c.supportsChannelBindings() && c.channelBindings.Critical {
			c.Debugf("no negotiating mechs support channel binding which is critical for us")
			err = common.ErrNoMech
			return
		} else {
			// otherwise indicate that we want CB for now
			disp = channelBindingDispWant
		}
	// if not negotiating mechs, we must have CB if critical
	case c.channelBindings.Critical:
		disp = channelBindingDispMust
	}

	return
}
