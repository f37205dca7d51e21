// Command dns-single-proxy runs the local recursive DNS proxy: it loads
// the systemd-resolved-compatible configuration, then serves UDP/TCP
// queries by consulting a TTL-accurate cache and, on a miss, a
// sequential primary/fallback upstream resolver whose answers are
// flattened to one record per RR type before being cached and returned.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/logpresso/dns-single-proxy/cache"
	"github.com/logpresso/dns-single-proxy/config"
	"github.com/logpresso/dns-single-proxy/handler"
	"github.com/logpresso/dns-single-proxy/logging"
	"github.com/logpresso/dns-single-proxy/metrics"
	"github.com/logpresso/dns-single-proxy/server"
	"github.com/logpresso/dns-single-proxy/upstream"
)

// BuildVersion is overridden at build time via -ldflags.
var BuildVersion = "(unknown version)"

func main() {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "dns-single-proxy",
		Short:         "A local DNS proxy that flattens upstream answers to one record per type",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	root.Flags().StringVar(&configPath, "config", config.DefaultConfigPath, "location of the resolved.conf-compatible configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log verbosity: debug, info, warn, error")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(BuildVersion)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	logging.Setup(logLevel)

	watcher, err := newConfigWatcher(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer watcher.Close()

	cfg := watcher.Current()

	c := cache.New(cfg.CacheSize)
	resolver := upstream.New(watcher)
	h := handler.New(resolver, c, cfg.Cache)

	listener := server.New(h)
	if err := listener.Start(cfg); err != nil {
		return fmt.Errorf("starting listener: %w", err)
	}
	defer listener.Close()

	watcher.OnReload(func(next *config.Config) {
		if err := listener.Reload(next); err != nil {
			zlog.Error("Failed to rebind DNS listener after config reload, keeping previous sockets", "error", err.Error())
		}
	})

	var metricsSrv *metrics.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddress)
		go metricsSrv.Start()
		defer metricsSrv.Close()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	return nil
}

// newConfigWatcher wraps config.NewWatcher so a first-load failure
// (refuse to start) is distinguishable from later reload failures,
// which the watcher itself already logs and survives.
func newConfigWatcher(configPath string) (*config.Watcher, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return config.NewWatcher(cfg)
}
