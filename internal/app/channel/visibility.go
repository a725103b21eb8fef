package channel

import (
	"time"

	"github.com/dkeye/Board/internal/domain"
)

// followVisibility leaves once the surface has been hidden for the
// visibility timeout with observation enabled, and rejoins when it becomes
// visible again or observation is turned off.
func (c *Channel) followVisibility(vis <-chan domain.Visibility, toggle <-chan bool) {
	var (
		hidden    bool
		enabled   = true
		suspended bool
		timer     *time.Timer
		timerC    <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stopTimer()
	arm := func() {
		if hidden && enabled && !suspended && timer == nil {
			timer = time.NewTimer(c.cfg.VisibilityTimeout)
			timerC = timer.C
		}
	}
	resume := func() {
		if !suspended {
			return
		}
		c.mu.Lock()
		destroyed := c.destroyed
		c.mu.Unlock()
		if destroyed {
			return
		}
		sid, err := c.sessions.Join(c.ctx, c.wb)
		if err != nil {
			c.log.Error().Err(err).Msg("rejoin after suspension")
			return
		}
		suspended = false
		c.log.Info().Str("session_id", string(sid)).Msg("resumed")
		c.publishStats()
	}

	for vis != nil || toggle != nil {
		select {
		case v, ok := <-vis:
			if !ok {
				vis = nil
				continue
			}
			hidden = v == domain.VisibilityHidden
			if hidden {
				arm()
			} else {
				stopTimer()
				resume()
			}
		case e, ok := <-toggle:
			if !ok {
				toggle = nil
				continue
			}
			enabled = e
			if enabled {
				arm()
			} else {
				stopTimer()
				resume()
			}
		case <-timerC:
			timer, timerC = nil, nil
			if !hidden || !enabled || suspended {
				continue
			}
			if err := c.sessions.Leave(c.ctx); err != nil {
				c.log.Warn().Err(err).Msg("leave while hidden")
			}
			suspended = true
			c.log.Info().Msg("suspended while hidden")
			c.publishStats()
		case <-c.ctx.Done():
			return
		}
	}
}
