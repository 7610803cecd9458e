// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.
package common

import "strings"

type SecurityFlag uint32

const (
	SecNoPlainText     SecurityFlag = 1 << iota // don't permit mechs susceptible to simple passive attack (eg. PLAIN, LOGIN)
	SecNoActive                                 // protection from active (non-dictionary) attacks
	SecNoDictionary                             // don't permit mechanisms susceptible to passive dictionary attack
	SecForwardSecrecy                           // require forward secrecy between sessions
	SecNoAnonymous                              // don't permit mechanisms that allow anonymous login
	SecPassCredentials                          // require mechanisms that pass client credentials
	SecMutualAuth                               // require mechanisms that provide mutual authentication
)

type Feature uint32

const (
	FeatNeedServerFQDN      Feature = 1 << iota // mech requires the server FQDN
	FeatWantClientFirst                         // mech prefers client to send first
	FeatServerFirst                             // mech only supports server-first
	FeatDontUseUserPassword                     // don't use cleartext passwords
	FeatGSSFraming                              // mechanism uses GSS framing
	FeatSupportsHTTP                            // mechanism can be used for HTTP authentication
	FeatChannelBindings                         // mechanism supports channel bindings
)

var securityFlagNames = map[SecurityFlag]string{
	SecNoPlainText:     "No plain text mechanisms",
	SecNoActive:        "Active attack protection",
	SecNoDictionary:    "No mechanisms susceptible to dictionary attacks",
	SecForwardSecrecy:  "Require forward secrecy",
	SecNoAnonymous:     "No anonymous mechanisms",
	SecPassCredentials: "Require passing of client credentials",
	SecMutualAuth:      "Require mutual authentication",
}

var featureNames = map[Feature]string{
	FeatNeedServerFQDN:      "Mechanism requires the server FQDN",
	FeatWantClientFirst:     "Mechanism prefers client-first protocol",
	FeatServerFirst:         "Mechanism requires server-first protocol",
	FeatDontUseUserPassword: "Don't use clear text passwords",
	FeatGSSFraming:          "Mechanism uses GSSAPI framing",
	FeatSupportsHTTP:        "Mechanism supports HTTP authentication",
	FeatChannelBindings:     "Mechanism supports channel bindings",
}

// bits splits a composite 32 bit flag value into its individual bits
func bits[T ~uint32](f T) (l []T) {
	for t := T(1); t != 0; t <<= 1 {
		if f&t != 0 {
			l = append(l, t)
		}
	}

	return
}

// FlagList returns a slice of individual flags derived from the
// composite value f
func FlagList(f SecurityFlag) []SecurityFlag {
	return bits(f)
}

// FlagName returns a human-readable description of a single security flag
func FlagName(f SecurityFlag) string {
	if name, ok := securityFlagNames[f]; ok {
		return name
	}

	return "Unknown"
}

func (f SecurityFlag) String() string {
	var names []string
	for _, fl := range FlagList(f) {
		names = append(names, FlagName(fl))
	}

	return strings.Join(names, ", ")
}

// FeatureList returns a slice of individual features derived from the
// composite value f
func FeatureList(f Feature) []Feature {
	return bits(f)
}

// FeatureName returns a human-readable description of a single feature
func FeatureName(f Feature) string {
	if name, ok := featureNames[f]; ok {
		return name
	}

	return "Unknown"
}

func (f Feature) String() string {
	var names []string
	for _, fl := range FeatureList(f) {
		names = append(names, FeatureName(fl))
	}

	return strings.Join(names, ", ")
}
