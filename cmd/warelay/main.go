// Command warelay relays inbound WhatsApp messages to a workflow-automation
// webhook and sends the webhook's reply text back into the conversation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypeer/warelay/internal/config"
	"github.com/hypeer/warelay/internal/relay"
	"github.com/hypeer/warelay/internal/wa"
	"github.com/hypeer/warelay/internal/webhook"
)

const version = "0.1.0"

const probeTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "warelay",
		Short:         "WhatsApp to workflow-webhook relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("warelay v%s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	slog.Info("starting relay", "version", version, "webhook", cfg.WebhookURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := webhook.NewClient(cfg.WebhookURL, time.Second)
	probeWebhook(ctx, client)

	store, err := wa.NewCredentialStore(cfg.AuthDir)
	if err != nil {
		return err
	}

	manager := wa.NewManager(wa.ManagerConfig{
		Dialer:               &wa.SocketDialer{URL: cfg.GatewayURL},
		Store:                store,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	pipeline := relay.NewPipeline(client, manager)
	manager.SetOnMessage(pipeline.Handle)
	manager.Start(ctx)
	slog.Info("relay is running, waiting for messages")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
		manager.Stop()
		return nil
	case err := <-manager.Done():
		if err == wa.ErrLoggedOut {
			slog.Info("session ended by logout")
			return nil
		}
		return err
	}
}

// probeWebhook is a non-fatal startup diagnostic: the relay starts even when
// the endpoint is unreachable, message forwarding just may fail.
func probeWebhook(ctx context.Context, client *webhook.Client) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if !client.Probe(probeCtx) {
		slog.Warn("webhook probe failed, the relay will continue but message forwarding may fail")
		return
	}
	slog.Info("webhook probe successful")
}
