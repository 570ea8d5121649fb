package alerting

import "time"

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetClock replaces the escalator clock.
func (x *Escalator) SetClock(now func() time.Time) { x.now = now }
