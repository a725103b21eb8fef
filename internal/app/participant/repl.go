package participant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dkeye/Board/internal/domain"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

var ErrQuit = errors.New("quit")

// REPL runs one command line at a time against a participant.
type REPL struct {
	p   *Participant
	out io.Writer
}

func NewREPL(p *Participant, out io.Writer) *REPL {
	return &REPL{p: p, out: out}
}

// Exec parses line with shell quoting and runs it. It returns ErrQuit for
// quit and exit.
func (r *REPL) Exec(line string) error {
	args, err := shellwords.Parse(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	root := r.commands()
	root.SetArgs(args)
	return root.Execute()
}

func (r *REPL) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(r.out)
	root.SetErr(r.out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:   "present",
			Short: "Start presenting the active slide",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.p.Presentation.StartPresentation()
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop presenting",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.p.Presentation.StopPresentation()
			},
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Toggle edit mode",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.p.Presentation.ToggleEditMode()
			},
		},
		&cobra.Command{
			Use:   "slide <id>",
			Short: "Switch the active slide",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !r.p.Whiteboard.Document().GetData().Has(args[0]) {
					return fmt.Errorf("unknown slide %q", args[0])
				}
				r.p.Whiteboard.SetActiveSlideID(args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "draw <element>",
			Short: "Draw on the active slide",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				r.p.Whiteboard.Draw(r.p.Whiteboard.ActiveSlideID(), args[0])
			},
		},
		&cobra.Command{
			Use:   "hide",
			Short: "Mark the surface hidden",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.p.Visibility.Set(domain.VisibilityHidden)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Mark the surface visible",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.p.Visibility.Set(domain.VisibilityVisible)
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print presentation state and active slide",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				s := r.p.Presentation.State()
				fmt.Fprintf(r.out, "%s edit=%t presenter=%s slide=%s undo=%d\n",
					s.Kind, s.IsEditMode, s.PresenterSessionID, r.p.Whiteboard.ActiveSlideID(), r.p.Whiteboard.UndoDepth())
			},
		},
		&cobra.Command{
			Use:   "sessions",
			Short: "List remote sessions in the whiteboard",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(r.out, "local %s %s\n", r.p.Sessions.UserID(), r.p.Sessions.SessionID())
				for _, s := range r.p.Sessions.Sessions() {
					fmt.Fprintf(r.out, "%s %s\n", s.UserID, s.SessionID)
				}
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print peer connection statistics",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				r.printStats()
			},
		},
		&cobra.Command{
			Use:   "send <type> <json>",
			Short: "Broadcast a message to every connected peer",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("content is not valid JSON")
				}
				return r.p.Channel.BroadcastMessage(args[0], json.RawMessage(args[1]))
			},
		},
		&cobra.Command{
			Use:     "quit",
			Aliases: []string{"exit"},
			Short:   "Leave the whiteboard",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return ErrQuit
			},
		},
	)
	return root
}

func (r *REPL) printStats() {
	stats := r.p.Channel.Statistics()
	ids := make([]string, 0, len(stats.PeerConnections))
	for id := range stats.PeerConnections {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		fmt.Fprintln(r.out, "no peers")
	}
	for _, id := range ids {
		pc := stats.PeerConnections[domain.ConnectionID(id)]
		fmt.Fprintf(r.out, "%s remote=%s connected=%t state=%s ice=%s channel=%s sent=%d recv=%d local=%s remote=%s\n",
			id, pc.RemoteSessionID, pc.IsPeerConnected(), pc.ConnectionState, pc.ICEConnectionState,
			pc.DataChannelState, pc.BytesSent, pc.BytesReceived, pc.LocalCandidateType, pc.RemoteCandidateType)
	}
}
