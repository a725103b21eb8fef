package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Board/internal/adapters/hostclient"
	"github.com/dkeye/Board/internal/adapters/rtc"
	"github.com/dkeye/Board/internal/app/participant"
	"github.com/dkeye/Board/internal/domain"
)

var joinCmd = &cobra.Command{
	Use:   "join <user> <whiteboard>",
	Short: "Join a whiteboard through the host and read commands from stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, wb := domain.UserID(args[0]), domain.WhiteboardID(args[1])
		if err := domain.ValidateUserID(user); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		host, err := hostclient.Dial(ctx, cfg.ServerURL, user)
		if err != nil {
			return err
		}
		defer host.Close()

		factory := rtc.NewFactory(rtc.ParseICEServers(cfg.ICEServers), rtc.NewLoggerFactory(cfg.Level()))
		p, err := participant.Open(ctx, host, factory, wb, participant.FromConfig(cfg))
		if err != nil {
			return err
		}
		defer p.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "joined %s as %s (session %s), type 'help' for commands\n", wb, user, p.Sessions.SessionID())
		go printEvents(ctx, out, "", p)

		lines := readLines(os.Stdin)
		repl := participant.NewREPL(p, out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-host.Done():
				return hostclient.ErrClosed
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				err := repl.Exec(line)
				if errors.Is(err, participant.ErrQuit) {
					return nil
				}
				if err != nil {
					fmt.Fprintln(out, "error:", err)
				}
			}
		}
	},
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// printEvents echoes incoming messages and presentation changes until ctx
// ends.
func printEvents(ctx context.Context, out io.Writer, prefix string, p *participant.Participant) {
	msgs := p.Channel.ObserveMessages(ctx)
	states := p.Presentation.ObservePresentationState(ctx)
	for msgs != nil || states != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			fmt.Fprintf(out, "%s< %s from %s: %s\n", prefix, m.Type, m.SenderUserID, m.Content)
		case s, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			fmt.Fprintf(out, "%s* presentation %s edit=%t presenter=%s slide=%s\n",
				prefix, s.Kind, s.IsEditMode, s.PresenterSessionID, p.Whiteboard.ActiveSlideID())
		case <-ctx.Done():
			log.Debug().Str("module", "participant").Msg("event printer stopped")
			return
		}
	}
}
