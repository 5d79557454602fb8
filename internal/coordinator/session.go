package coordinator

import (
	"time"

	"github.com/mahekanna/gann-robot/pkg/config"
)

// Session gates trading on the configured market hours.
type Session struct {
	cfg config.SessionConfig
	loc *time.Location
}

func NewSession(cfg config.SessionConfig) (*Session, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, loc: loc}, nil
}

// CanEnter reports whether new entries are allowed at t: inside the session
// window and before the square-off cutoff.
func (s *Session) CanEnter(t time.Time) bool {
	return s.cfg.WithinSession(t, s.loc) && !s.cfg.PastSquareOff(t, s.loc)
}

// ShouldSquareOff reports whether open positions must be force-closed at t.
func (s *Session) ShouldSquareOff(t time.Time) bool {
	return s.cfg.PastSquareOff(t, s.loc)
}

// Day returns the trading-day key for t in the session timezone.
func (s *Session) Day(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}
