package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/config"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/feed"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Analyse the RPL control messages of a pcap file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()
		return replay(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
	},
}

func replay(ctx context.Context, cfg *config.Config, path string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	stats, replayErr := feed.ReplayFile(ctx, path, func(f feed.Frame) error {
		return p.submit(ctx, f)
	})
	p.close()

	ws := p.handle.Stats()
	fmt.Fprintf(out, "capture:     %s\n", path)
	fmt.Fprintf(out, "packets:     %d (rpl %d, skipped %d, undecodable %d)\n",
		stats.Packets, stats.Frames, stats.Skipped, stats.Invalid)
	fmt.Fprintf(out, "cycles:      %d (invalid %d, aborted %d)\n",
		ws.Cycles, ws.ValidationFailures, ws.Aborted)
	fmt.Fprintf(out, "reports:     %d\n", ws.Reports)
	return replayErr
}
