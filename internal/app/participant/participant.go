// Package participant assembles one whiteboard participant: presence,
// communication channel, presentation and the local whiteboard.
package participant

import (
	"context"
	"fmt"

	"github.com/dkeye/Board/internal/adapters/board"
	"github.com/dkeye/Board/internal/adapters/visibility"
	"github.com/dkeye/Board/internal/app/channel"
	"github.com/dkeye/Board/internal/app/peer"
	"github.com/dkeye/Board/internal/app/presence"
	"github.com/dkeye/Board/internal/app/presentation"
	"github.com/dkeye/Board/internal/config"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
)

type Config struct {
	Presence presence.Config
	Channel  channel.Config
	Slides   []string
}

var DefaultSlides = []string{"slide-1", "slide-2", "slide-3"}

// FromConfig maps the loaded configuration onto the components.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Presence: presence.Config{
			Timeout:         cfg.Presence.Timeout,
			CleanupInterval: cfg.Presence.CleanupInterval,
		},
		Channel: channel.Config{
			VisibilityTimeout: cfg.Channel.VisibilityTimeout,
			ReplayWindow:      cfg.Signaling.ReplayWindow,
			Peer: peer.Config{
				CandidateBatchWindow: cfg.Peer.CandidateBatchWindow,
				StatsInterval:        cfg.Peer.StatsInterval,
				ChannelLabel:         cfg.Peer.ChannelLabel,
			},
		},
		Slides: DefaultSlides,
	}
}

type Participant struct {
	Schemas      *domain.SchemaRegistry
	Whiteboard   *board.Whiteboard
	Visibility   *visibility.Manual
	Sessions     *presence.SessionManager
	Channel      *channel.Channel
	Presentation *presentation.Manager
}

// Open joins wb through host and starts every component.
func Open(ctx context.Context, host core.Host, factory core.PeerTransportFactory, wb domain.WhiteboardID, cfg Config) (*Participant, error) {
	slides := cfg.Slides
	if len(slides) == 0 {
		slides = DefaultSlides
	}
	p := &Participant{
		Schemas:    domain.NewSchemaRegistry(),
		Whiteboard: board.NewWhiteboard(slides...),
		Visibility: visibility.NewManual(),
		Sessions:   presence.NewSessionManager(host, cfg.Presence),
	}
	ch, err := channel.Start(ctx, wb, p.Sessions, host, factory, p.Visibility, cfg.Channel)
	if err != nil {
		p.Sessions.Destroy()
		p.Visibility.Close()
		return nil, fmt.Errorf("open participant: %w", err)
	}
	p.Channel = ch
	p.Presentation = presentation.NewManager(ch, p.Whiteboard, p.Schemas)
	return p, nil
}

// Close leaves the whiteboard and stops every component.
func (p *Participant) Close() {
	p.Presentation.Destroy()
	p.Channel.Destroy()
	p.Sessions.Destroy()
	p.Visibility.Close()
}
