// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Command saslmechs inspects the SASL mechanisms available to a process,
// including those declared in a provider configuration file.
package main

import (
	"encoding/base64"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	sasl "github.com/golang-auth/go-saslmech"
	"github.com/golang-auth/go-saslmech/common"
	"github.com/golang-auth/go-saslmech/config"
	"github.com/golang-auth/go-saslmech/mechs"
	"github.com/golang-auth/go-saslmech/pkg/loggable"
	"github.com/golang-auth/go-saslmech/registry"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// loaded by the root command, nil without --config
	cfg *config.Config

	logger *zap.Logger
)

// start command flags
var (
	service    string
	serverFQDN string
	mechList   []string
	authID     string
	authzID    string
	password   string
	token      string
)

var rootCmd = &cobra.Command{
	Use:   "saslmechs",
	Short: "Inspect registered SASL mechanisms",
	Long: `saslmechs builds a mechanism registry the same way a client would:
the built-in mechanisms first, then the providers declared in the
configuration file (--config, or $SASL_CONFIG).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv(config.EnvConfigFile)
		}

		level := zapcore.WarnLevel
		if configPath != "" {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			if cfg.LogLevel != "" {
				if level, err = zapcore.ParseLevel(cfg.LogLevel); err != nil {
					return fmt.Errorf("bad log_level: %w", err)
				}
			}
		}
		if verbose {
			level = zapcore.DebugLevel
		}

		zc := zap.NewDevelopmentConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered mechanisms in preference order",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the type references provider declarations may use",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an instance of a mechanism and show its properties",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Negotiate a mechanism and print the initial client response",
	Long: `Chooses the first registered mechanism that meets the default security
requirements and prints its initial response, base64 encoded.  Server-first
mechanisms print nothing.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "provider configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	startCmd.Flags().StringVar(&service, "service", "imap", "service name")
	startCmd.Flags().StringVar(&serverFQDN, "server", "", "server host name")
	startCmd.Flags().StringSliceVar(&mechList, "mech", nil, "mechanisms to consider, in order")
	startCmd.Flags().StringVar(&authID, "authid", "", "authentication identity")
	startCmd.Flags().StringVar(&authzID, "authzid", "", "authorization identity")
	startCmd.Flags().StringVar(&password, "password", "", "password")
	startCmd.Flags().StringVar(&token, "token", "", "OAuth bearer token")

	rootCmd.AddCommand(listCmd, typesCmd, createCmd, startCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRegistry seeds a registry from the built-ins and the loaded
// configuration file
func buildRegistry() (*registry.Registry, error) {
	types, err := sasl.DefaultTypes()
	if err != nil {
		return nil, err
	}

	var source registry.ProviderSource
	if cfg != nil {
		decls := cfg.Declarations()
		source = func() ([]registry.ProviderDeclaration, error) {
			return decls, nil
		}
	}

	return registry.New(
		registry.WithBuiltins(mechs.Builtins()),
		registry.WithTypeResolver(types),
		registry.WithProviderSource(source),
		registry.WithLogger(loggable.WithZapLogger(logger)),
	)
}

func runList(cmd *cobra.Command, args []string) error {
	r, err := buildRegistry()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMECHANISM\tTYPE\tSETTINGS")
	for _, name := range r.Mechs() {
		b, _ := r.Binding(name)
		m, err := r.Create(name)
		if err != nil {
			return err
		}

		settings := slices.Sorted(maps.Keys(r.Settings(name)))

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, m.Name(), b.Impl, strings.Join(settings, ","))
	}

	return w.Flush()
}

func runTypes(cmd *cobra.Command, args []string) error {
	types, err := sasl.DefaultTypes()
	if err != nil {
		return err
	}

	for _, ref := range types.Refs() {
		fmt.Fprintln(cmd.OutOrStdout(), ref)
	}

	return nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	r, err := buildRegistry()
	if err != nil {
		return err
	}

	m, err := r.Create(args[0])
	if err != nil {
		return err
	}
	b, _ := r.Binding(args[0])
	props := m.MechProperties()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "name:      %s (registered as %s)\n", m.Name(), b.Name)
	fmt.Fprintf(out, "type:      %s\n", b.Impl.QualifiedName())
	fmt.Fprintf(out, "max SSF:   %d\n", props.MaxSSF)
	fmt.Fprintln(out, "security:")
	for _, f := range common.FlagList(props.SecurityProperties) {
		fmt.Fprintf(out, "  - %s\n", common.FlagName(f))
	}
	fmt.Fprintln(out, "features:")
	for _, f := range common.FeatureList(props.Features) {
		fmt.Fprintf(out, "  - %s\n", common.FeatureName(f))
	}

	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	r, err := buildRegistry()
	if err != nil {
		return err
	}

	cli, err := sasl.NewSaslClient(service,
		sasl.WithRegistry(r),
		sasl.WithZapLogger(logger),
		sasl.WithServerFQDN(serverFQDN),
		sasl.WithMechList(mechList),
		sasl.WithAuthID(authID, authzID),
		sasl.WithPassword(password),
		sasl.WithToken(token),
	)
	if err != nil {
		return err
	}

	out, err := cli.Start()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cli.MechName(), base64.StdEncoding.EncodeToString(out))
	return nil
}
