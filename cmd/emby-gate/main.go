// Command emby-gate runs the virtual-library gateway in front of an Emby
// server.
//
//	emby-gate run   --config gate.yaml
//	emby-gate check --config gate.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embygate/emby-gate/internal/compositor"
	"github.com/embygate/emby-gate/internal/config"
	"github.com/embygate/emby-gate/internal/emby"
	"github.com/embygate/emby-gate/internal/gateway"
	"github.com/embygate/emby-gate/internal/logging"
	"github.com/embygate/emby-gate/internal/resolver"
	"github.com/embygate/emby-gate/internal/store"
	"github.com/embygate/emby-gate/internal/tasks"
)

const hostProbeInterval = 5 * time.Minute

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: emby-gate <command> [flags]

commands:
  run     serve the gateway
  check   validate config, store and host connectivity, then exit

Configuration layers: built-in defaults, then the --config YAML file, then
EMBY_GATE_* environment variables (EMBY_GATE_EMBY__BASE_URL etc).
`)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogConsole)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	host := emby.New(cfg.Emby.BaseURL, cfg.Emby.APIKey, cfg.Emby.Timeout)
	host.SetDetailChunkSize(cfg.Compositor.DetailChunkSize)
	comp := compositor.New(st, host, cfg)
	cache := resolver.NewCache(
		resolver.NewStorageUpstream(cfg.Storage),
		resolver.NewLimiter(cfg.Storage.RatePerSec, cfg.Storage.Burst, nil),
		cfg.Storage.PositiveTTL, cfg.Storage.NegativeTTL, nil)

	gw, err := gateway.New(cfg, host, comp, cache)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := tasks.NewRunner(64)
	go runner.ObserveWithLog(ctx)
	go runner.RunEvery(ctx, &tasks.HostProbe{Host: host}, hostProbeInterval)

	return gw.Run(ctx)
}

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to YAML config file")
	timeout := fs.Duration("timeout", 10*time.Second, "probe timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, true)
	fmt.Printf("config: ok (listen %s)\n", cfg.ListenAddr)

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cols, err := st.ActiveCollections(ctx)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Printf("store:  ok (%d active collections)\n", len(cols))

	host := emby.New(cfg.Emby.BaseURL, cfg.Emby.APIKey, cfg.Emby.Timeout)
	serverID, err := host.ServerID(ctx)
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	fmt.Printf("host:   ok (server %s)\n", serverID)
	return nil
}
