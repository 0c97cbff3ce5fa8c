package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/overhearops/overhearops/internal/adapter/apiclient"
	ohnats "github.com/overhearops/overhearops/internal/adapter/nats"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/port/messagequeue"
	"github.com/overhearops/overhearops/internal/resilience"
	"github.com/overhearops/overhearops/internal/service"
)

type replayFlags struct {
	speed    float64
	jitter   float64
	seed     int64
	target   string
	runAfter bool
	dryRun   bool
}

func replayCmd() *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay <thread>",
		Short: "Play a recorded thread back with its original pacing",
		Long: `Replay delivers each message of a thread after the gap that separated it
from the previous one, scaled by --speed and perturbed by seeded --jitter.

Targets:
  stdout           one JSON line per message (default)
  nats             publish on the thread event subject of the configured NATS
  http(s)://host   POST each message to a running server's events endpoint`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args[0], f)
		},
	}
	cmd.Flags().Float64Var(&f.speed, "speed", 0, "playback speed multiplier; 0 delivers without waiting (default from config)")
	cmd.Flags().Float64Var(&f.jitter, "jitter", 0, "jitter fraction of each gap (default from config)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "jitter seed for a reproducible schedule")
	cmd.Flags().StringVar(&f.target, "target", "stdout", "stdout, nats or a server base URL")
	cmd.Flags().BoolVar(&f.runAfter, "run", false, "run the pipeline on the thread after playback")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the schedule without playing it")
	return cmd
}

func runReplay(cmd *cobra.Command, threadID string, f replayFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	closer := cliLogger(cfg)
	defer closer.Close()
	ctx := cmd.Context()

	opts := replayDefaults(cfg)
	if cmd.Flags().Changed("speed") {
		opts.Speed = f.speed
	}
	if cmd.Flags().Changed("jitter") {
		opts.Jitter = f.jitter
	}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		opts.Seed = &seed
	}
	out := cmd.OutOrStdout()

	if f.dryRun {
		replayer := service.NewReplayService(newThreadService(cfg, wiring{}), nil)
		sched, err := replayer.Schedule(ctx, threadID, opts)
		if err != nil {
			return err
		}
		return printSchedule(out, threadID, sched)
	}

	var (
		sink   service.Sink
		remote *apiclient.Client
		w      wiring
	)
	switch {
	case f.target == "stdout":
		sink = stdoutSink(out)
	case f.target == "nats":
		if cfg.NATS.URL == "" {
			return fmt.Errorf("target nats needs nats.url or NATS_URL")
		}
		queue, err := ohnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		sink = service.QueueSink{Queue: queue}
		w.queue = queue
	case strings.HasPrefix(f.target, "http://"), strings.HasPrefix(f.target, "https://"):
		remote = apiclient.NewClient(f.target)
		remote.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, resilience.WithName("api")))
		sink = remote
	default:
		return fmt.Errorf("unknown target %q", f.target)
	}

	// A remote target runs on the server; local targets run here.
	localRun := f.runAfter && remote == nil
	var replayer *service.ReplayService
	if localRun {
		a, err := newApp(ctx, cfg, w)
		if err != nil {
			return err
		}
		defer a.Close()
		replayer = a.replay
	} else {
		replayer = service.NewReplayService(newThreadService(cfg, w), nil)
	}

	res, err := replayer.Play(ctx, service.ReplayRequest{ThreadID: threadID, Options: opts, RunAfter: localRun}, sink)
	if err != nil {
		return err
	}
	if f.runAfter && remote != nil {
		rec, err := remote.StartRun(ctx, threadID)
		if err != nil {
			return err
		}
		res.RunID = rec.RunID
	}
	return printReplayResult(cmd.ErrOrStderr(), res)
}

// stdoutSink writes one JSON line per delivered message.
func stdoutSink(w io.Writer) service.Sink {
	enc := json.NewEncoder(w)
	return service.SinkFunc(func(_ context.Context, threadID string, msg message.Message, delay float64) error {
		return enc.Encode(messagequeue.ThreadEventPayload{ThreadID: threadID, Message: msg, Delay: delay})
	})
}

func printReplayResult(w io.Writer, res *service.ReplayResult) error {
	if jsonOutput() {
		return printJSON(w, res)
	}
	_, err := fmt.Fprintf(w, "replayed %d messages of %s  hash %s", res.Events, res.ThreadID, res.Hash)
	if err == nil && res.RunID != "" {
		_, err = fmt.Fprintf(w, "  run %s", res.RunID)
	}
	if err == nil {
		_, err = fmt.Fprintln(w)
	}
	return err
}
