// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay is the orchestrator (C10): it builds both per-chain
// Networks, unlocks both accounts, runs past-flush recovery, and then runs
// every pipeline concurrently until one of them reports a fatal error.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/chainbridge/relay/internal/anchor"
	"github.com/chainbridge/relay/internal/chainclient"
	"github.com/chainbridge/relay/internal/flush"
	"github.com/chainbridge/relay/internal/network"
	"github.com/chainbridge/relay/internal/relaycfg"
	"github.com/chainbridge/relay/internal/rescan"
	"github.com/chainbridge/relay/internal/statusapi"
	"github.com/chainbridge/relay/internal/transfer"
)

// Relay holds both chains' Networks and the status server that sits in
// front of them.
type Relay struct {
	Home   *network.Network
	Side   *network.Network
	Status *statusapi.Server
	port   uint16
}

// New wires a Relay around already-constructed Networks. Most callers
// should use Build instead.
func New(home, side *network.Network, port uint16) *Relay {
	return &Relay{Home: home, Side: side, Status: statusapi.New(home, side), port: port}
}

// Build constructs both Networks from cfg — dialing each chain, unlocking
// the operator account on both — and returns a ready-to-run Relay. It does
// not start any pipeline.
func Build(ctx context.Context, cfg *relaycfg.Config) (*Relay, error) {
	home, err := buildNetwork(ctx, cfg, cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("relay: build home network: %w", err)
	}
	side, err := buildNetwork(ctx, cfg, cfg.Side)
	if err != nil {
		return nil, fmt.Errorf("relay: build side network: %w", err)
	}

	if err := home.Unlock(cfg.Password); err != nil {
		return nil, err
	}
	if err := side.Unlock(cfg.Password); err != nil {
		return nil, err
	}

	return New(home, side, cfg.Port), nil
}

func buildNetwork(ctx context.Context, cfg *relaycfg.Config, chain relaycfg.ChainConfig) (*network.Network, error) {
	client, err := chainclient.Dial(ctx, chain.WSURI)
	if err != nil {
		return nil, err
	}
	net, err := network.New(network.Config{
		Name:            chain.Name,
		Chain:           client,
		TokenAddress:    chain.Token,
		RelayAddress:    chain.Relay,
		Account:         cfg.Account,
		KeyDir:          cfg.KeyDir,
		ChainID:         chain.ChainID,
		Confirmations:   chain.Confirmations,
		AnchorFrequency: chain.AnchorFrequency,
		Interval:        chain.Interval,
		Timeout:         chain.Timeout,
		Retries:         chain.Retries,
		GasLimit:        chain.GasLimit,
		GasPricePolicy:  network.GasPricePolicy{Floor: chain.GasFloor, Ceiling: chain.GasCeiling},
	})
	if err != nil {
		return nil, err
	}
	if err := net.SeedNonce(ctx); err != nil {
		return nil, err
	}
	return net, nil
}

// Run executes the startup sequence — past-flush recovery on the side
// chain — then every pipeline concurrently, blocking until one of them
// reports a fatal error or ctx is cancelled. A pipeline that ends
// gracefully (e.g. because its chain became flushed) does not trigger
// shutdown; only a genuine error does, per spec.md §4.10.
func (r *Relay) Run(ctx context.Context) error {
	if err := flush.Recover(ctx, r.Side, r.Home); err != nil {
		return fmt.Errorf("relay: past-flush recovery: %w", err)
	}

	errs := make(chan error, 8)
	spawn := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				return
			}
			log.Info("relay: pipeline ended gracefully", "pipeline", name)
		}()
	}

	spawn("anchor", func() error { return anchor.Run(ctx, r.Side, r.Home) })
	spawn("transfer(home->side)", func() error { return transfer.Run(ctx, r.Home, r.Side) })
	spawn("transfer(side->home)", func() error { return transfer.Run(ctx, r.Side, r.Home) })
	spawn("rescan(home->side)", func() error { return rescan.Run(ctx, r.Home, r.Side) })
	spawn("rescan(side->home)", func() error { return rescan.Run(ctx, r.Side, r.Home) })
	spawn("flush", func() error { return flush.Run(ctx, r.Side, r.Home) })
	spawn("statusapi", func() error { return r.serveStatus(ctx) })
	go r.consumeRescans(ctx)

	select {
	case err := <-errs:
		log.Error("relay: pipeline exited with error, shutting down", "err", err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// consumeRescans drains the status server's manual-rescan queue onto the
// same approval path C6 uses, for as long as ctx is live.
func (r *Relay) consumeRescans(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.Status.Rescans():
			var dir statusapi.Direction
			switch req.Chain {
			case "home":
				dir = r.Status.HomeToSide
			case "side":
				dir = r.Status.SideToHome
			default:
				log.Warn("relay: manual rescan for unknown chain, dropping", "chain", req.Chain)
				continue
			}
			go func(dir statusapi.Direction, hash common.Hash) {
				if err := transfer.Rescan(ctx, dir.Source, dir.Target, hash); err != nil {
					log.Error("relay: manual rescan failed", "tx", hash, "err", err)
				}
			}(dir, req.TxHash)
		}
	}
}

func (r *Relay) serveStatus(ctx context.Context) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", r.port), Handler: r.Status.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
