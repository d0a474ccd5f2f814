// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command relay runs the two-chain token bridge: it watches Transfer
// events on one ERC-20 and approves matching withdrawals on the other,
// anchors block hashes across chains, and serves a status/query API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	// Registers the "consul" remote provider relaycfg's loadRemote relies on.
	_ "github.com/spf13/viper/remote"

	"github.com/chainbridge/relay/internal/relay"
	"github.com/chainbridge/relay/internal/relaycfg"
	"github.com/chainbridge/relay/internal/relaylog"
)

const clientIdentifier = "relay"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "relay ERC-20 transfers and anchor block hashes between a home and a side chain",
	Version: "1.0.0",
	Action:  run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(*cli.Context) error {
	fs := pflag.NewFlagSet(clientIdentifier, pflag.ExitOnError)
	relaycfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("relay: bind flags: %w", err)
	}
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("relay: read config %s: %w", cfgFile, err)
		}
	}

	cfg, err := relaycfg.Load(v)
	if err != nil {
		return fmt.Errorf("relay: load config: %w", err)
	}

	if err := relaylog.Setup(relaylog.Config{Backend: cfg.LogBackend}); err != nil {
		return fmt.Errorf("relay: setup logging: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("relay starting", "home", cfg.Home.Name, "side", cfg.Side.Name, "port", cfg.Port)

	r, err := relay.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("relay: build: %w", err)
	}

	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("relay: %w", err)
	}
	log.Info("relay shut down")
	return nil
}
