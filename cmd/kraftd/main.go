// Command kraftd serves a Kafka-protocol subset (ApiVersions,
// DescribeTopicPartitions, Fetch) against a KRaft controller's on-disk
// metadata log.
package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/burningass23/kraft-broker/internal/broker"
	"github.com/burningass23/kraft-broker/internal/config"
	"github.com/burningass23/kraft-broker/internal/klog"
	"github.com/burningass23/kraft-broker/internal/metadatalog"
	"github.com/burningass23/kraft-broker/internal/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kraftd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse(args)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zl.Sync()
	log := klog.NewZap(zl)

	index, err := metadatalog.Load(cfg.MetadataLogDir)
	if err != nil {
		return fmt.Errorf("load metadata log: %w", err)
	}

	m := metrics.New()
	go func() {
		log.Info("serving metrics", klog.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, m.Handler()); err != nil {
			log.Error("metrics server stopped", klog.Err(err))
		}
	}()

	srv := broker.NewServer(cfg.ListenAddr, log, m, index)
	return srv.ListenAndServe()
}
