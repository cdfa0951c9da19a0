package shard

// Metrics is a read-only view of the shard's runtime signals. It is written by
// the tick goroutine and read from HTTP handlers and tests.
type Metrics struct {
	Zone       uint32  `json:"zone"`
	Tick       uint64  `json:"tick"`
	Objects    int     `json:"objects"`
	StepMS     float64 `json:"step_ms"`
	Overruns   uint64  `json:"overruns"`
	Panics     uint64  `json:"panics"`
	Collisions int     `json:"collisions"`
	Paused     bool    `json:"paused"`
	InboxDepth int     `json:"inbox_depth"`
}

func (s *Shard) Metrics() Metrics {
	if s == nil {
		return Metrics{}
	}
	m, ok := s.metrics.Load().(Metrics)
	if !ok {
		m = Metrics{Zone: s.cfg.Zone}
	}
	// live values; a paused shard publishes no new metrics
	m.Paused = s.paused.Load()
	m.InboxDepth = len(s.inbox)
	return m
}
