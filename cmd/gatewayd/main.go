// Copyright (C) 2026 The ecmpgw Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command gatewayd is the ECMP-aware stateful L4 gateway daemon: it
// loads configuration, builds the shared GatewayCtx, and starts the
// three pinned worker loops (spec §2) until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhangmh/ecmpgw/internal/config"
	"github.com/zhangmh/ecmpgw/internal/flowtable"
	"github.com/zhangmh/ecmpgw/internal/gwtypes"
	"github.com/zhangmh/ecmpgw/internal/logging"
	"github.com/zhangmh/ecmpgw/internal/metrics"
	"github.com/zhangmh/ecmpgw/internal/pipeline"
	"github.com/zhangmh/ecmpgw/internal/port"
	"github.com/zhangmh/ecmpgw/internal/ring"
)

func main() {
	var (
		configPath = flag.String("c", "/etc/ecmpgw/gatewayd.hcl", "path to the gateway's HCL configuration file")
		sim        = flag.Bool("sim", false, "run against in-memory fake ports instead of real interfaces")
	)
	flag.Parse()

	if err := run(*configPath, *sim); err != nil {
		fmt.Fprintln(os.Stderr, "gatewayd:", err)
		os.Exit(1)
	}
}

func run(configPath string, sim bool) error {
	cfg, err := loadConfig(configPath, sim)
	if err != nil {
		return err
	}

	level := logging.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	logger := logging.New(logging.Config{Output: os.Stderr, Level: level, JSON: cfg.LogJSON})
	logging.SetDefault(logger)
	log := logger.WithComponent("gatewayd")

	ports, closePorts, err := openPorts(cfg, sim)
	if err != nil {
		return err
	}
	defer closePorts()

	identity := gwtypes.GatewayIdentity{
		SelfIP:  config.IP4ToUint32(cfg.SelfIP),
		PeerIP:  config.IP4ToUint32(cfg.PeerIP),
		DIPPool: make([]uint32, len(cfg.Backends)),
	}
	for i, b := range cfg.Backends {
		identity.DIPPool[i] = config.IP4ToUint32(b)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	table := flowtable.New(flowtable.Config{Capacity: cfg.TableCapacity, Logger: logger.WithComponent("flowtable")})
	r := ring.New(cfg.RingCapacity)
	ctx := pipeline.NewGatewayCtx(identity, ports, table, r, m, logger)

	log.Info("starting gateway",
		"self_ip", cfg.SelfIP, "peer_ip", cfg.PeerIP, "backends", len(cfg.Backends),
		"ports", len(ports), "node_id", ctx.NodeID, "sim", sim)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, w := range []func(*pipeline.GatewayCtx, <-chan struct{}){
		pipeline.RunNFWorker, pipeline.RunManagerMaster, pipeline.RunManagerSlave,
	} {
		wg.Add(1)
		go func(w func(*pipeline.GatewayCtx, <-chan struct{})) {
			defer wg.Done()
			w(ctx, done)
		}(w)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info("shutting down")

	close(done)
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	wg.Wait()
	return nil
}

func loadConfig(path string, sim bool) (*config.Config, error) {
	if sim {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

// openPorts builds one port.Port per configured interface, or, under
// -sim, one in-memory port.Fake per interface name so the pipelines run
// end to end without real NICs (SPEC_FULL.md §6).
func openPorts(cfg *config.Config, sim bool) ([]port.Port, func(), error) {
	names := cfg.Ports
	if len(names) == 0 {
		names = []string{"sim0"}
	}

	ports := make([]port.Port, 0, len(names))
	for i, name := range names {
		if sim {
			mac := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, byte(i + 1)}
			ip := net.IPv4(10, 0, 0, byte(i+1))
			ports = append(ports, port.NewFake(mac, ip))
			continue
		}
		p, err := port.Open(name)
		if err != nil {
			closePorts(ports)
			return nil, nil, err
		}
		ports = append(ports, p)
	}
	return ports, func() { closePorts(ports) }, nil
}

func closePorts(ports []port.Port) {
	for _, p := range ports {
		_ = p.Close()
	}
}
