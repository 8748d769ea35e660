package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/censys/ospd-netstat/pkg/discovery"
	"github.com/censys/ospd-netstat/pkg/processing"
	"github.com/censys/ospd-netstat/pkg/scan"
	pgstore "github.com/censys/ospd-netstat/pkg/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume scan requests from Pub/Sub and report results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	defer client.Close()

	reporters := processing.MultiReporter{processing.NewLogReporter(logger)}

	if cfg.DatabaseURL != "" {
		pool, err := pgstore.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()

		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("db schema: %w", err)
		}
		reporters = append(reporters, processing.NewStoreReporter(pgstore.NewRepository(pool)))
	}

	if cfg.PubSub.ResultsTopicID != "" {
		topic := client.Topic(cfg.PubSub.ResultsTopicID)
		defer topic.Stop()
		reporters = append(reporters, processing.NewPubSubReporter(topic))
	}

	var dlqPublisher processing.DLQPublisher
	if cfg.PubSub.DLQTopicID != "" {
		topic := client.Topic(cfg.PubSub.DLQTopicID)
		defer topic.Stop()
		dlqPublisher = processing.NewPubSubDLQPublisher(topic)
	} else {
		dlqPublisher = &processing.NoopDLQPublisher{}
	}

	runner := scan.NewRunner(discovery.New(cfg.Discovery(), logger), cfg.SSH.ScanTimeout, logger)
	handler := processing.NewHandler(runner, reporters, dlqPublisher, logger)

	sub := client.Subscription(cfg.PubSub.SubscriptionID)
	sub.ReceiveSettings.NumGoroutines = cfg.PubSub.Workers
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.PubSub.MaxOutstanding

	logger.WithFields(logrus.Fields{
		"project":      cfg.PubSub.ProjectID,
		"subscription": cfg.PubSub.SubscriptionID,
		"workers":      cfg.PubSub.Workers,
		"platform":     cfg.SSH.Platform,
		"store":        cfg.DatabaseURL != "",
	}).Info("scanner started")

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if handler.HandleMessage(ctx, msg) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil {
		return fmt.Errorf("subscription receive ended: %w", err)
	}

	logger.Info("scanner stopped")
	return nil
}
