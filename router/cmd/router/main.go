// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command router runs the transparent-security INT switch.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ekmixon/transparent-security/pkg/log"
	"github.com/ekmixon/transparent-security/pkg/private/serrors"
	"github.com/ekmixon/transparent-security/router"
	"github.com/ekmixon/transparent-security/router/config"
	"github.com/ekmixon/transparent-security/router/control"
)

func main() {
	var configPath string
	var sample bool

	cmd := &cobra.Command{
		Use:           "router",
		Short:         "Transparent-security INT switch",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sample {
				fmt.Fprint(cmd.OutOrStdout(), config.Sample)
				return nil
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := log.Setup(cfg.Logging); err != nil {
				return err
			}
			defer log.Flush()
			defer log.HandlePanic()
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "router.toml", "config file")
	cmd.Flags().BoolVar(&sample, "sample", false, "print a sample config and exit")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dp := router.NewDataPlane(runConfig(cfg))
	for _, p := range cfg.Ports {
		conn, err := openPort(p)
		if err != nil {
			return err
		}
		if err := dp.AddPort(p.Port, conn); err != nil {
			return serrors.Wrap("adding port", err, "port", p.Port)
		}
	}
	if err := control.Apply(dp, cfg.Tables); err != nil {
		return serrors.Wrap("installing tables", err)
	}

	g, errCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer log.HandlePanic()
		log.Info("Starting dataplane", "switchID", cfg.Switch.SwitchID,
			"mode", cfg.Switch.Mode, "ports", len(cfg.Ports))
		return dp.Run(errCtx)
	})
	g.Go(func() error {
		defer log.HandlePanic()
		runLearner(errCtx, dp)
		return nil
	})
	if cfg.Metrics.Prometheus != "" {
		g.Go(func() error {
			defer log.HandlePanic()
			return serveMetrics(errCtx, cfg.Metrics.Prometheus)
		})
	}
	return g.Wait()
}

func runConfig(cfg *config.Config) router.RunConfig {
	overflow := router.OverflowDropOldest
	if cfg.Switch.Overflow == config.OverflowReject {
		overflow = router.OverflowReject
	}
	mode := router.ForwardModeLearn
	if cfg.Switch.Mode == config.ModeRoute {
		mode = router.ForwardModeRoute
	}
	return router.RunConfig{
		SwitchID:       cfg.Switch.SwitchID,
		UplinkPort:     cfg.Switch.UplinkPort,
		MirrorPort:     cfg.Switch.MirrorPort,
		IntPort:        cfg.Switch.IntPort,
		MaxHops:        cfg.Switch.MaxHops,
		DomainID:       cfg.Switch.DomainID,
		MetaStackDepth: cfg.Switch.MetaStackDepth,
		Overflow:       overflow,
		Mode:           mode,
	}
}

func openPort(p config.Port) (router.BatchConn, error) {
	local, err := netip.ParseAddrPort(p.Local)
	if err != nil {
		return nil, serrors.Wrap("bad local endpoint", err, "port", p.Port)
	}
	var remote netip.AddrPort
	if p.Remote != "" {
		remote, err = netip.ParseAddrPort(p.Remote)
		if err != nil {
			return nil, serrors.Wrap("bad remote endpoint", err, "port", p.Port)
		}
	}
	return router.OpenUDP(local, remote)
}

// runLearner consumes learning digests and installs the source binding so
// that subsequent moves can be told apart from first sightings. ARP digests
// are logged only.
func runLearner(ctx context.Context, dp *router.DataPlane) {
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-dp.Digests():
			log.Debug("Digest", "kind", dg.Kind, "srcMac", dg.SrcMac,
				"ingress", dg.IngressPort)
			switch dg.Kind {
			case router.DigestSrcMiss, router.DigestSrcMove:
				if err := dp.SetLearnedPort(dg.SrcMac, dg.IngressPort); err != nil {
					log.Error("Installing learned port", "err", err)
				}
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		defer log.HandlePanic()
		<-ctx.Done()
		srv.Close()
	}()
	log.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
