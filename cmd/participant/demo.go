package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Board/internal/adapters/memory"
	"github.com/dkeye/Board/internal/adapters/rtc"
	"github.com/dkeye/Board/internal/app/participant"
	"github.com/dkeye/Board/internal/domain"
)

var demoTimeout time.Duration

// demoCmd runs two participants in one process over an in-memory host and
// real loopback peer connections, then walks through a presentation.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a two-participant presentation locally",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
		defer cancel()
		out := cmd.OutOrStdout()

		h := memory.NewHub()
		defer h.Close()
		factory := rtc.NewFactory(nil, rtc.NewLoggerFactory(cfg.Level()), rtc.WithLoopbackCandidates())
		pcfg := participant.FromConfig(cfg)

		var alice, bob *participant.Participant
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			alice, err = participant.Open(gctx, memory.NewClient(h, "@alice"), factory, "demo", pcfg)
			return err
		})
		g.Go(func() (err error) {
			bob, err = participant.Open(gctx, memory.NewClient(h, "@bob"), factory, "demo", pcfg)
			return err
		})
		err := g.Wait()
		for _, p := range []*participant.Participant{alice, bob} {
			if p != nil {
				defer p.Close()
			}
		}
		if err != nil {
			return err
		}
		go printEvents(ctx, out, "[bob] ", bob)

		fmt.Fprintln(out, "waiting for the peer connection")
		if err := waitFor(ctx, func() bool { return len(alice.Channel.Statistics().ConnectedSessions()) == 1 }); err != nil {
			return err
		}

		presenter := participant.NewREPL(alice, out)
		steps := []string{"present", "slide slide-2", "edit", "draw circle", "slide slide-3", "stop", "stats"}
		for _, step := range steps {
			fmt.Fprintf(out, "[alice] > %s\n", step)
			if err := presenter.Exec(step); err != nil {
				return err
			}
			if step == "present" {
				err = waitFor(ctx, func() bool { return bob.Presentation.State().Kind == domain.PresentationFollowing })
			} else {
				err = sleep(ctx, 300*time.Millisecond)
			}
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	demoCmd.Flags().DurationVar(&demoTimeout, "timeout", time.Minute, "give up after this long")
}

func waitFor(ctx context.Context, cond func() bool) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return errors.New("demo timed out")
		case <-t.C:
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
