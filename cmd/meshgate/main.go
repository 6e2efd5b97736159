/*------------------------------------------------------------------
 *
 * Purpose:	Main program for the packet-radio to OpenStreetMap
 *		Notes gateway.
 *
 * Description:	Wires the Clock, Position Cache, Store, Policy Engine,
 *		Radio Adapter, Upstream Publisher, Flush Worker, Notifier,
 *		Metrics exporter and Template Store into an Orchestrator,
 *		then runs until an interrupt or terminate signal arrives.
 *
 *---------------------------------------------------------------*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	gateway "github.com/kd9xyz/meshgate/src"
)

func main() {
	var (
		serialPort = pflag.StringP("serial-port", "s", "", "Serial device path for the radio modem (overrides SERIAL_PORT).")
		dataDir    = pflag.StringP("data-dir", "d", "", "Directory for the store and templates file (overrides DATA_DIR).")
		dryRun     = pflag.Bool("dry-run", false, "Synthesize upstream responses instead of calling the OSM API (overrides DRY_RUN).")
		help       = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "meshgate: offline-tolerant packet-radio to OpenStreetMap Notes gateway")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	cfg, err := gateway.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshgate: config error:", err)
		os.Exit(1)
	}

	if *serialPort != "" {
		cfg.SerialPort = *serialPort
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
		cfg.TemplatesPath = *dataDir + "/templates.yaml"
	}

	if *dryRun {
		cfg.DryRun = true
	}

	logger := gateway.NewLogger(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("could not create data directory", "dir", cfg.DataDir, "err", err)
	}

	store, err := gateway.OpenStore(cfg.DataDir + "/meshgate.db")
	if err != nil {
		logger.Fatal("could not open store", "err", err)
	}
	defer store.Close()

	clock := gateway.NewSystemClock()
	positions := gateway.NewPositionCache()

	policy := gateway.NewPolicy(positions, store)
	policy.PosGood = cfg.PosGood
	policy.PosMax = cfg.PosMax

	radio := gateway.NewSerialRadio(cfg.SerialPort, cfg.SerialBaud, logger.With("component", "radio"))

	publisher := gateway.NewPublisher(cfg.OSMEndpoint, cfg.OSMRateLimit, cfg.DryRun)

	if sc, ok := clock.(interface{ NotifyUpstreamSuccess() }); ok {
		publisher.OnSuccess(sc.NotifyUpstreamSuccess)
	}

	metrics := gateway.NewMetrics()
	templates := gateway.LoadTemplateStore(cfg.TemplatesPath, logger.With("component", "templates"))
	notifier := gateway.NewNotifier(radio, store, templates, metrics, cfg.DefaultLocale)

	flush := &gateway.FlushWorker{
		Store:     store,
		Publisher: publisher,
		Clock:     clock,
		Notifier:  notifier,
		Metrics:   metrics,
		Interval:  cfg.WorkerInterval,
		Logger:    logger.With("component", "flush"),
		Locale:    cfg.DefaultLocale,
	}

	orchestrator := &gateway.Orchestrator{
		Config:    cfg,
		Clock:     clock,
		Positions: positions,
		Store:     store,
		Policy:    policy,
		Radio:     radio,
		Publisher: publisher,
		Flush:     flush,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Serve(ctx, cfg.MetricsAddr, logger.With("component", "metrics"))

	logger.Info("meshgate starting", "serial_port", cfg.SerialPort, "data_dir", cfg.DataDir, "dry_run", cfg.DryRun)

	if err := orchestrator.Run(ctx); err != nil {
		logger.Fatal("orchestrator exited with error", "err", err)
	}

	logger.Info("meshgate stopped")
}
