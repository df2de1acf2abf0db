package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/config"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/feed"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/metrics"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/watchdog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var statsInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyse live captures from the configured sniffers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()
		return run(cfg)
	},
}

func init() {
	runCmd.Flags().DurationVar(&statsInterval, "stats", 30*time.Second, "Stats logging interval")
}

func run(cfg *config.Config) error {
	log := logrus.WithField("component", "main")
	log.Info("rpl-watchdog starting...")

	if len(cfg.Feed.Sniffers) == 0 {
		return errors.New("no sniffers configured (feed.sniffers)")
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	client := feed.NewMultiClient(cfg.Feed.Sniffers, cfg.Feed.Buffer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range client.Frames() {
			// Fails only once shutting down; later frames are discarded
			_ = p.submit(ctx, frame)
		}
	}()

	if cfg.Watchdog.LifetimeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.Watchdog.LifetimeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.handle.TrySubmit(watchdog.Event{Type: watchdog.EventLifetimeUpdate})
				}
			}
		}()
	}

	go logStats(ctx, p, client)

	client.Start()

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")
	cancel()
	client.Stop()
	wg.Wait()

	// Flushes queued cycles, findings and the database writer
	p.close()
	return nil
}

func logStats(ctx context.Context, p *pipeline, client *feed.MultiClient) {
	if statsInterval <= 0 {
		return
	}
	log := logrus.WithField("component", "stats")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var lastReceived uint64
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := p.handle.Stats()
		elapsed := time.Since(lastTime).Seconds()
		rate := float64(stats.Received-lastReceived) / elapsed

		feedStats := client.Stats()
		log.Infof("STATS: events=%d (%.0f/s), cycles=%d, reports=%d, invalid=%d, channel=%d/%d",
			stats.Received, rate, stats.Cycles, stats.Reports, stats.ValidationFailures,
			feedStats.ChannelLen, feedStats.ChannelCap)

		lastReceived = stats.Received
		lastTime = time.Now()
	}
}
