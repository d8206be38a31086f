// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fitjourney/internal/chaos"
	"fitjourney/internal/clients"
	"fitjourney/internal/config"
	"fitjourney/internal/database"
	"fitjourney/internal/logging"
	"fitjourney/internal/telemetry"
)

func main() {
	apiURL := flag.String("api", getEnv("FITJOURNEY_API_URL", "http://localhost:8080"), "base URL of a running API")
	concurrency := flag.Int("concurrency", 50, "simultaneous requests per experiment")
	capacity := flag.Int("capacity", 10, "seats in the contested session")
	pause := flag.Duration("pause", 2*time.Second, "wait between experiments")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New("fitjourney-chaos", cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "fitjourney-chaos", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer shutdownTracer(context.Background())

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	engine := chaos.NewEngine(log)
	engine.SetPause(*pause)
	engine.RegisterDefaults(chaos.NewTarget(clients.NewClient(*apiURL, nil), db, log), *concurrency, *capacity)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "booking race game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	if err != nil {
		log.Fatalf("Chaos game day failed: %v", err)
	}
	if !held {
		log.Error("at least one hypothesis was violated")
		os.Exit(1)
	}
	log.Info("all hypotheses held")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
