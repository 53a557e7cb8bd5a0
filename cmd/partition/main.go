package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xchainarb/detector/internal/audit"
	"github.com/xchainarb/detector/internal/bus"
	"github.com/xchainarb/detector/internal/config"
	"github.com/xchainarb/detector/internal/runtime"
)

func main() {
	rootCmd := &cobra.Command{Use: "partition"}
	rootCmd.AddCommand(runCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a chain-subset detection partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartition(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "configs/partition.yml", "path to partition YAML config")
	return cmd
}

func runPartition(configPath string) error {
	log := logrus.StandardLogger()

	// Missing .env is not fatal: production deployments inject env vars
	// directly.
	_ = godotenv.Load()

	y, err := config.LoadPartitionYAML(configPath)
	if err != nil {
		log.WithError(err).Error("ERR_CONFIG: failed to load partition file")
		return err
	}

	cfg, err := config.Load(y, config.OSEnv, false)
	if err != nil {
		log.WithError(err).Error("ERR_CONFIG: invalid partition configuration")
		return err
	}

	opts, err := redis.ParseURL(cfg.BusURL)
	if err != nil {
		log.WithError(err).Error("ERR_CONFIG: invalid REDIS_URL")
		return err
	}
	redisClient := redis.NewClient(opts)
	streamBus := bus.New(redisClient, bus.WithLogger(log))

	deps := runtime.Deps{Bus: streamBus}
	if cfg.AuditDSN != "" {
		rec, err := audit.NewRecorder(cfg.AuditDSN)
		if err != nil {
			log.WithError(err).Warn("audit: failed to connect, continuing without audit recording")
		} else {
			deps.AuditRecorder = rec
			defer rec.Close()
		}
	}

	partition, err := runtime.New(cfg, deps, log)
	if err != nil {
		log.WithError(err).Error("ERR_CONFIG: failed to construct partition")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	go serveHealth(cfg, partition, log)

	log.WithFields(logrus.Fields{
		"partitionId": cfg.PartitionID,
		"chains":      cfg.Chains,
	}).Info("partition starting")

	if err := partition.Run(ctx); err != nil {
		log.WithError(err).Error("partition exited with error")
		return err
	}
	return nil
}

func serveHealth(cfg *config.Config, p *runtime.Partition, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h := p.HealthSnapshot()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"partitionId":%q,"pairCount":%d,"circuitOpen":%t}`, h.PartitionID, h.PairCount, h.CircuitOpen)
	})
	addr := fmt.Sprintf(":%d", cfg.HealthCheckPort)
	log.WithField("addr", addr).Info("health endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Warn("health endpoint stopped")
	}
}
