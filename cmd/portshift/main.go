// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cocowh/portshift/core/config"
	"github.com/cocowh/portshift/core/control"
	"github.com/cocowh/portshift/core/portset"
	"github.com/cocowh/portshift/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

var (
	configPath string
	verbose    bool
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portshift",
	Short: "PortShift is a moving-target-defense TCP gateway",
	Long: `PortShift fronts a TCP service with a rotating set of listening ports.
Only one port per epoch forwards to the backend; clients sharing the secret
can compute it, while any contact with one of the decoy ports blacklists
the source address.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long:  `Start the gateway with the specified configuration.`,
	RunE:  runServer,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of PortShift",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "PortShift version %s\n", rootCmd.Version)
	},
}

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after merging defaults, the config file and PORTSHIFT_* environment variables. The shared secret is redacted.`,
	RunE:  runConfig,
}

// portCmd derives the forwarding port on the client side
var portCmd = &cobra.Command{
	Use:   "port",
	Short: "Compute the forwarding port for an epoch",
	Long:  `Compute the forwarding port a client should connect to, from the shared secret and the epoch.`,
	RunE:  runPort,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd, portCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (yaml, toml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "set log level (trace, debug, info, warn, error, fatal)")

	// Serve command flags
	serveCmd.Flags().String("secret", "", "shared secret (overrides gateway.shared_secret)")
	serveCmd.Flags().String("backend", "", "backend host:port (overrides backend.host and backend.port)")
	serveCmd.Flags().Int("base-port", 0, "first port of the rotating range (overrides gateway.base_port)")
	serveCmd.Flags().Bool("admin", false, "enable the admin API (overrides admin.enabled)")

	configCmd.Flags().StringP("format", "f", "yaml", "output format (yaml, toml, json)")

	portCmd.Flags().String("secret", "", "shared secret (defaults to gateway.shared_secret)")
	portCmd.Flags().Int64("epoch", -1, "epoch id (defaults to the current epoch)")
	portCmd.Flags().Int("base", 0, "base port (defaults to gateway.base_port)")
	portCmd.Flags().String("hash", "", "hash function (defaults to gateway.hash)")
	portCmd.Flags().Duration("period", 0, "rotation period (defaults to rotation.period)")
}

// applyServeFlags copies explicitly set flags over the configuration.
func applyServeFlags(cmd *cobra.Command, cm *config.ConfigManager) error {
	flags := cmd.Flags()
	if flags.Changed("secret") {
		secret, _ := flags.GetString("secret")
		cm.Set("gateway.shared_secret", secret)
	}
	if flags.Changed("backend") {
		backend, _ := flags.GetString("backend")
		host, portStr, err := net.SplitHostPort(backend)
		if err != nil {
			return fmt.Errorf("invalid --backend %q: %w", backend, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid --backend port %q: %w", portStr, err)
		}
		cm.Set("backend.host", host)
		cm.Set("backend.port", port)
	}
	if flags.Changed("base-port") {
		base, _ := flags.GetInt("base-port")
		cm.Set("gateway.base_port", base)
	}
	if flags.Changed("admin") {
		enabled, _ := flags.GetBool("admin")
		cm.Set("admin.enabled", enabled)
	}
	return nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cm); err != nil {
		return err
	}

	stopLogger, err := control.InitLogger(cm, logLevel, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer stopLogger()

	logger.Infof("Starting PortShift %s...", version)
	if path := cm.Path(); path != "" {
		logger.Infof("Using configuration file: %s", path)
	}

	// build control plane
	plane, err := control.NewControlPlaneBuilder(cm).Build()
	if err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return err
	}

	if err := plane.Start(); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	if addr := plane.AdminAddr(); addr != "" {
		logger.Infof("Admin API available at http://%s/status", addr)
	}

	// wait for signal or a fatal rotation error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Infof("Received %s, shutting down PortShift...", sig)
	case <-plane.Done():
		logger.Errorf("Port rotation stopped, shutting down PortShift")
	}

	if err := plane.Stop(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
		return err
	}
	if err := plane.Err(); err != nil {
		return err
	}

	logger.Info("PortShift stopped gracefully")
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	out, err := cm.Render(format)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runPort(cmd *cobra.Command, args []string) error {
	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		return err
	}
	gw := cm.GetGatewayConfig()
	period := cm.GetRotationConfig().Period

	flags := cmd.Flags()
	secret := gw.SharedSecret
	if flags.Changed("secret") {
		secret, _ = flags.GetString("secret")
	}
	base := gw.BasePort
	if flags.Changed("base") {
		base, _ = flags.GetInt("base")
	}
	hashName := gw.Hash
	if flags.Changed("hash") {
		hashName, _ = flags.GetString("hash")
	}
	if flags.Changed("period") {
		period, _ = flags.GetDuration("period")
	}

	if secret == "" {
		return fmt.Errorf("a shared secret is required (--secret or gateway.shared_secret)")
	}
	hasher, err := portset.LookupHasher(hashName)
	if err != nil {
		return err
	}
	gen, err := portset.NewGenerator(secret, 1, portset.WithHasher(hasher))
	if err != nil {
		return err
	}

	epoch, _ := flags.GetInt64("epoch")
	now := time.Now()
	if epoch < 0 {
		epoch = portset.EpochAt(now, period)
	}

	fmt.Fprintln(cmd.OutOrStdout(), gen.GenuinePort(base, epoch))
	if !flags.Changed("epoch") {
		next := portset.EpochStart(epoch+1, period)
		fmt.Fprintf(cmd.ErrOrStderr(), "epoch %d, valid for another %s\n", epoch, next.Sub(now).Round(time.Second))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
