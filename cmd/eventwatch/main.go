// eventwatch tails the shared event exchange. It binds an ephemeral
// queue to a routing pattern and prints every matching event, which is
// the quickest way to see what the services are actually saying to each
// other.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	eventbus "github.com/shopstream/eventbus-go"
	"github.com/shopstream/eventbus-go/config"
	"github.com/shopstream/eventbus-go/contracts"
	"github.com/shopstream/eventbus-go/messaging"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		amqpURL string
		pattern string
		raw     bool
	)

	rootCmd := &cobra.Command{
		Use:   "eventwatch",
		Short: "Tail events flowing through the shared exchange",
		Long: `eventwatch subscribes an ephemeral queue to the shared topic exchange
and prints every event matching the given routing pattern. The queue is
server-named and exclusive, so watching never competes with a service's
durable consumers.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), amqpURL, pattern, raw)
		},
	}

	rootCmd.Flags().StringVarP(&amqpURL, "url", "u", "", "RabbitMQ connection URL (defaults to AMQP_URL)")
	rootCmd.Flags().StringVarP(&pattern, "pattern", "p", "#", "routing pattern to watch, e.g. 'order.*'")
	rootCmd.Flags().BoolVar(&raw, "raw", false, "print raw envelope JSON instead of one line per event")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, amqpURL, pattern string, raw bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if amqpURL != "" {
		cfg.AMQPURL = amqpURL
	}
	cfg.ServiceName = ""

	client, err := eventbus.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	var seen atomic.Int64
	handler := messaging.HandlerFunc(func(ctx context.Context, eventType contracts.EventType, payload json.RawMessage) error {
		seen.Add(1)
		printEvent(eventType, payload, raw)
		return nil
	})
	// Ephemeral queue: no name, no dead-lettering, gone on exit.
	err = client.Subscriber().Subscribe(ctx, pattern, handler, messaging.WithoutDeadLetter())
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", pattern, err)
	}

	fmt.Printf("watching %q on %s (ctrl-c to stop)\n", pattern, cfg.Exchange)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fmt.Printf("-- %d events so far --\n", seen.Load())
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("\n%d events seen\n", seen.Load())
	return nil
}

func printEvent(eventType contracts.EventType, payload json.RawMessage, raw bool) {
	ts := time.Now().Format("15:04:05.000")
	if raw {
		fmt.Printf("%s %-18s %s\n", ts, eventType, payload)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		fmt.Printf("%s %-18s <%d bytes>\n", ts, eventType, len(payload))
		return
	}
	line := ""
	for _, key := range []string{"orderId", "productId", "paymentId", "userId", "quantity", "totalAmount", "reason", "status", "action"} {
		if v, ok := fields[key]; ok {
			line += fmt.Sprintf(" %s=%v", key, v)
		}
	}
	fmt.Printf("%s %-18s%s\n", ts, eventType, line)
}
