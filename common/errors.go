// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package common

import (
	"errors"
	"fmt"
)

// registry errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotRegistered   = errors.New("no mechanism with that name is registered")
	ErrRegistration    = errors.New("registration of mechanism failed")
	ErrDuplicateMech   = errors.New("a mechanism with the same name is already registered")
	ErrUnresolvedType  = errors.New("mechanism type cannot be resolved")
	ErrInstantiation   = errors.New("mechanism could not be instantiated")
	ErrSeed            = errors.New("mechanism registry seeding failed")
)

// negotiation and mechanism errors
var (
	ErrNoMech             = errors.New("no worthy mechs found")
	ErrNotStarted         = errors.New("must use Start() before Step()")
	ErrAlreadyEstablished = errors.New("context is already established")
	ErrNotEstablished     = errors.New("context is not established")
	ErrNotConfigured      = errors.New("mechanism has not been configured")
	ErrMissingCredentials = errors.New("required credentials not supplied")
	ErrNoSecurityLayer    = errors.New("no security layer negotiated")
	ErrBadChallenge       = errors.New("malformed server challenge")
	ErrServerAuth         = errors.New("server failed to authenticate")
)

type ErrTooWeak struct {
	MechSSF     uint
	ExtSSF      uint
	RequiredSSF uint
}

func (e ErrTooWeak) Error() string {
	if e.ExtSSF > 0 {
		return fmt.Sprintf("negotiated SSF (%d) + external SSF (%d) is less than required SSF (%d)", e.MechSSF, e.ExtSSF, e.RequiredSSF)
	} else {
		return fmt.Sprintf("negotiated SSF (%d) is less than required SSF (%d)", e.MechSSF, e.RequiredSSF)
	}
}

// ErrRegistrationFailed is returned when a valid binding could not be added
// to a registry.  Cause holds the underlying reason, usually ErrDuplicateMech.
type ErrRegistrationFailed struct {
	Name  string
	Cause error
}

func (e ErrRegistrationFailed) Error() string {
	return fmt.Sprintf("registration of mechanism %q failed: %v", e.Name, e.Cause)
}

func (e ErrRegistrationFailed) Unwrap() []error {
	return []error{ErrRegistration, e.Cause}
}

// ErrSeedFailed reports the binding that stopped a registry from being
// seeded.  Index is the position of the provider declaration, or -1 for
// a built-in binding or a provider source that could not be read.
type ErrSeedFailed struct {
	Index int
	Name  string
	Cause error
}

func (e ErrSeedFailed) Error() string {
	switch {
	case e.Index >= 0:
		return fmt.Sprintf("seeding provider #%d (%q): %v", e.Index, e.Name, e.Cause)
	case e.Name != "":
		return fmt.Sprintf("seeding built-in mechanism %q: %v", e.Name, e.Cause)
	}

	return fmt.Sprintf("%v: %v", ErrSeed, e.Cause)
}

func (e ErrSeedFailed) Unwrap() []error {
	return []error{ErrSeed, e.Cause}
}
