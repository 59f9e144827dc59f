// nexlytix-seed publishes synthetic device telemetry to the broker, for
// exercising a running Nexlytix Core end to end.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nerrad567/nexlytix-core/internal/infrastructure/config"
	"github.com/nerrad567/nexlytix-core/internal/infrastructure/mqtt"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the seeder's command-line settings.
type options struct {
	configPath string
	devices    []string
	org        string
	count      int
	delay      time.Duration
	startSeq   int64
	unsigned   bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	flags := pflag.NewFlagSet("nexlytix-seed", pflag.ContinueOnError)
	flags.StringVarP(&o.configPath, "config", "c", os.Getenv("NEXLYTIX_CONFIG"), "path to config.yaml")
	flags.StringSliceVarP(&o.devices, "device", "d", nil, "device id to seed (repeatable, default: built-in fleet)")
	flags.StringVar(&o.org, "org", "nexlytix", "organisation topic level")
	flags.IntVarP(&o.count, "count", "n", 10, "messages per device")
	flags.DurationVar(&o.delay, "delay", 200*time.Millisecond, "pause between messages")
	flags.Int64Var(&o.startSeq, "start-seq", -1, "sequence before the first message (-1 picks a random start)")
	flags.BoolVar(&o.unsigned, "unsigned", false, "do not sign payloads even when a secret is configured")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if len(o.devices) == 0 {
		o.devices = defaultDevices
	}
	if o.count < 1 {
		return nil, fmt.Errorf("--count must be at least 1")
	}
	return o, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	_ = godotenv.Load() //nolint:errcheck // .env is optional

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	secret := cfg.Security.HMACSecret
	if opts.unsigned {
		secret = ""
	}

	// The seeder needs its own client id so it does not evict the service.
	cfg.MQTT.Broker.ClientID += "-seed"
	client, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck // best effort on exit

	fmt.Fprintf(out, "publishing to %s:%d\n", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)

	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)) //nolint:gosec // synthetic data

	total := 0
	for _, dev := range opts.devices {
		start := opts.startSeq
		if start < 0 {
			start = 100 + rng.Int64N(900)
		}
		f := newFactory(dev, start, rng)
		topic := topics.Telemetry(opts.org, dev)

		for range opts.count {
			msg, err := f.next(time.Now(), secret)
			if err != nil {
				return fmt.Errorf("building payload for %s: %w", dev, err)
			}
			if err := client.Publish(topic, msg, byte(cfg.MQTT.QoS), false); err != nil { //nolint:gosec // validated to 0..2
				return fmt.Errorf("publishing to %s: %w", topic, err)
			}
			fmt.Fprintf(out, "  [%s] seq=%d\n", dev, f.seq)
			total++

			select {
			case <-ctx.Done():
				fmt.Fprintf(out, "\ninterrupted, %d messages sent.\n", total)
				return nil
			case <-time.After(opts.delay):
			}
		}
	}

	fmt.Fprintf(out, "\n%d messages sent.\n", total)
	return nil
}
