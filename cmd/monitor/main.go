// Monitor runs the rule engine against a live feed: a TCP JSON-lines
// port, a polled aircraft.json endpoint, or a NATS subject. Rule
// matches dispatch their configured actions as the stream arrives;
// Ctrl-C drains state and prints the final report.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skyops/rulescope/internal/db"
	"github.com/skyops/rulescope/internal/source"
	"github.com/skyops/rulescope/internal/statsapi"
	"github.com/skyops/rulescope/internal/webhook"
	"github.com/skyops/rulescope/pkg/config"
	"github.com/skyops/rulescope/pkg/engine"
)

var (
	configPath  = flag.String("config", "rules.yaml", "Path to rules configuration file")
	sourceKind  = flag.String("source", "tcp", "Feed type: tcp, poll, or nats")
	tcpAddr     = flag.String("addr", "localhost:30154", "TCP feed address (source=tcp)")
	pollURL     = flag.String("url", "http://localhost:8080/data/aircraft.json", "Endpoint to poll (source=poll)")
	pollEvery   = flag.Duration("poll-interval", time.Second, "Poll interval (source=poll)")
	natsURL     = flag.String("nats-url", "nats://localhost:4222", "NATS server URL (source=nats)")
	natsSubject = flag.String("subject", "adsb.reports", "NATS subject (source=nats)")
	statsPort   = flag.Int("stats-port", 0, "Stats API port (0 disables)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	notifier := webhook.NewDispatcher(cfg.Engine.Webhooks)
	defer notifier.Close()

	opts := engine.Options{Notifier: notifier, Output: os.Stdout}

	if cfg.Engine.PostgresDSN != "" {
		database, err := db.Connect(cfg.Engine.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := database.InitSchema(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to init schema: %v", err)
		}
		cancel()

		opts.Sink = db.NewEventStore(database)
		log.Printf("Archiving rule events to PostgreSQL")
	}

	eng, err := engine.New(cfg, opts)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer eng.Close()

	src, closeSrc, err := openSource()
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer closeSrc()

	if *statsPort > 0 {
		api := statsapi.New(eng, *statsPort)
		api.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			api.Shutdown(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		cancel()
	}()

	log.Printf("Monitoring %s feed with %d rules", *sourceKind, len(cfg.Rules))
	if err := eng.Run(ctx, src); err != nil {
		log.Fatalf("Engine failed: %v", err)
	}

	eng.FinalReport()
}

func openSource() (engine.Source, func(), error) {
	switch *sourceKind {
	case "tcp":
		src := source.DialTCP(*tcpAddr)
		return src, func() { src.Close() }, nil
	case "poll":
		src := source.NewPoll(*pollURL, *pollEvery)
		return src, func() {}, nil
	case "nats":
		src, err := source.ConnectNATS(*natsURL, *natsSubject)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	default:
		log.Fatalf("Unknown source type %q (want tcp, poll, or nats)", *sourceKind)
		return nil, nil, nil
	}
}
