// Replay runs the rule engine over a recorded JSON-lines trace file.
// All cooldowns and expirations follow the timestamps in the trace,
// so a replay produces the same matches as the original live run.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyops/rulescope/internal/source"
	"github.com/skyops/rulescope/internal/webhook"
	"github.com/skyops/rulescope/pkg/config"
	"github.com/skyops/rulescope/pkg/engine"
)

var (
	configPath = flag.String("config", "rules.yaml", "Path to rules configuration file")
	delay      = flag.Duration("delay", 0, "Pause between reports (0 replays at full speed)")
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("Usage: %s [flags] <trace-file>", os.Args[0])
	}
	tracePath := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	notifier := webhook.NewDispatcher(cfg.Engine.Webhooks)
	defer notifier.Close()

	eng, err := engine.New(cfg, engine.Options{
		Notifier: notifier,
		Output:   os.Stdout,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer eng.Close()

	src, err := source.OpenFile(tracePath, *delay)
	if err != nil {
		log.Fatalf("Failed to open trace: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	start := time.Now()
	if err := eng.Run(ctx, src); err != nil {
		log.Fatalf("Engine failed: %v", err)
	}
	log.Printf("Replay finished in %v", time.Since(start).Round(time.Millisecond))

	eng.FinalReport()
}
