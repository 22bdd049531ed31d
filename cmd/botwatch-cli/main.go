// Command botwatch-cli is a terminal client for a running botwatch server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"botwatch/clients/botapi"
	"botwatch/clients/livestream"
	"botwatch/clients/sse"
	"botwatch/clients/statsfeed"
	"botwatch/internal/health"
	"botwatch/internal/store"

	"go.uber.org/zap"
)

const usage = `usage: botwatch-cli <command> [flags]

commands:
  status     print bot statuses and the registry
  tail       follow the /stream snapshot feed
  watch      follow the /ws stats feed
  livechart  read a latency stream into the health gauge
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "status":
		err = runStatus(ctx, args)
	case "tail":
		err = runTail(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	case "livechart":
		err = runLiveChart(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// commonFlags registers the flags every command shares.
func commonFlags(fs *flag.FlagSet) (addr *string, verbose *bool) {
	addr = fs.String("addr", "http://localhost:8000", "botwatch server base URL")
	verbose = fs.Bool("v", false, "log client activity to stderr")
	return addr, verbose
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr, verbose := commonFlags(fs)
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	_ = fs.Parse(args)

	logger := newLogger(*verbose)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	api := botapi.NewClient(logger, *addr)
	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("server not healthy: %w", err)
	}

	statuses, err := api.BotStatuses(ctx)
	if err != nil {
		return err
	}
	registry, err := api.Registry(ctx)
	if err != nil {
		return err
	}

	printStatuses(os.Stdout, statuses)
	fmt.Println()
	printRegistry(os.Stdout, registry)
	return nil
}

func printStatuses(out io.Writer, statuses []store.BotStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BOT\tSTATUS\tSUCCESS\tFAILURES\tAVG LATENCY\tLAST HEARTBEAT")
	for _, s := range statuses {
		fmt.Fprintf(w, "%s\t%s %s\t%.1f%%\t%d\t%.0fms\t%s\n",
			s.BotName, s.Indicator, s.Status, s.SuccessRate, s.FailureCount, s.AvgLatency,
			s.LastHeartbeat.Local().Format(time.TimeOnly))
	}
	_ = w.Flush()
}

func printRegistry(out io.Writer, entries []store.RegistryEntry) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tREGISTERED\tENABLED\tSTATUS\tTIER")
	for _, e := range entries {
		tier := string(e.LatencyTier)
		if tier == "" {
			tier = "-"
		}
		fmt.Fprintf(w, "%s\t%t\t%t\t%s %s\t%s\n", e.Name, e.Registered, e.Enabled, e.Indicator, e.Status, tier)
	}
	_ = w.Flush()
}

func runTail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	addr, verbose := commonFlags(fs)
	_ = fs.Parse(args)

	logger := newLogger(*verbose)
	defer logger.Sync()

	client := sse.NewClient(logger, strings.TrimRight(*addr, "/")+"/stream")
	return client.Run(ctx, func(ev sse.Event) {
		var snap store.Snapshot
		if err := json.Unmarshal([]byte(ev.Data), &snap); err != nil {
			logger.Debug("skipping undecodable event", zap.String("event", ev.Event), zap.Error(err))
			return
		}
		for _, e := range snap.LastEvents {
			printEvent(e)
		}
	})
}

func printEvent(e store.Event) {
	status := "ok"
	if e.Error != "" {
		status = "error: " + e.Error
	}
	fmt.Printf("%s  %-20s %6dms  %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.BotName, e.LatencyMs, status)
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr, verbose := commonFlags(fs)
	_ = fs.Parse(args)

	logger := newLogger(*verbose)
	defer logger.Sync()

	url := "ws" + strings.TrimPrefix(strings.TrimRight(*addr, "/"), "http") + "/ws"
	client := statsfeed.NewClient(logger, url)
	defer client.Close()

	return client.Run(ctx, func(f statsfeed.Frame) {
		switch f.Type {
		case statsfeed.FrameStats:
			fmt.Printf("stats     %s\n", f.Data)
		case statsfeed.FrameSnapshot:
			var snap store.Snapshot
			if err := json.Unmarshal(f.Data, &snap); err != nil {
				logger.Warn("bad snapshot frame", zap.Error(err))
				return
			}
			k := snap.KPIs
			fmt.Printf("snapshot  avg=%dms success=%.1f%% tpm=%d events=%d\n",
				k.AvgLatencyMs, k.SuccessRatePct, k.Throughput1m, len(snap.LastEvents))
		default:
			logger.Debug("ignoring frame", zap.String("type", f.Type))
		}
	})
}

func runLiveChart(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("livechart", flag.ExitOnError)
	url := fs.String("url", "", "latency stream URL (newline separated sizes)")
	maxMs := fs.Float64("max", 1000, "gauge maximum in ms")
	threshold := fs.Float64("threshold", 350, "warning threshold in ms")
	span := fs.Duration("span", time.Minute, "averaging window")
	mock := fs.Bool("mock", false, "use generated values instead of the stream")
	verbose := fs.Bool("v", false, "log client activity to stderr")
	_ = fs.Parse(args)

	logger := newLogger(*verbose)
	defer logger.Sync()

	gauge := health.NewGauge(*maxMs, *threshold, *span)
	reader := livestream.NewReader(logger, *url, gauge)
	reader.MockOnly = *mock || *url == ""
	reader.OnReading = func(r health.Reading, src livestream.Source) {
		bar := strings.Repeat("#", int(r.Size*40))
		fmt.Printf("%-6s %-40s %s avg %s [%s]\n", src, bar, r.ValueText(), r.AverageText(), r.Tier.Label())
	}
	return reader.Run(ctx)
}
