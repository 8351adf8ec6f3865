package call

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Quality is the ordered connection-quality scale.
type Quality string

const (
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// Byte-count thresholds over one sampling window.
const (
	excellentBytes = 1_000_000
	goodBytes      = 500_000
	fairBytes      = 100_000
)

// StatsSource yields a transport stats snapshot.
type StatsSource interface {
	GetStats() (webrtc.StatsReport, error)
}

// pcStats reads through the engine so a transport replaced on glare is
// still the one sampled.
type pcStats struct{ e *Engine }

func (s pcStats) GetStats() (webrtc.StatsReport, error) { return s.e.transport().GetStats(), nil }

// Sampler periodically reads video byte counters off the transport and
// classifies connection quality. Informational only: it never feeds
// back into negotiation, and a failing stats query keeps the previous
// classification.
type Sampler struct {
	src       StatsSource
	interval  time.Duration
	onQuality func(Quality)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	quality Quality
	lastIn  uint64
	lastOut uint64
}

func NewSampler(src StatsSource, interval time.Duration, onQuality func(Quality)) *Sampler {
	return &Sampler{
		src:       src,
		interval:  interval,
		onQuality: onQuality,
		quality:   QualityGood,
	}
}

// Start launches the sampling loop. Already running is a no-op, so
// re-entering connected never spawns a duplicate timer.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	go s.loop(s.stop)
}

func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
}

func (s *Sampler) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

func (s *Sampler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	report, err := s.src.GetStats()
	if err != nil {
		log.Warn().Err(err).Str("module", "call.stats").Msg("stats query failed, keeping previous quality")
		return
	}

	var in, out uint64
	for _, stat := range report {
		switch v := stat.(type) {
		case webrtc.InboundRTPStreamStats:
			if v.Kind == "video" {
				in += v.BytesReceived
			}
		case webrtc.OutboundRTPStreamStats:
			if v.Kind == "video" {
				out += v.BytesSent
			}
		}
	}

	s.mu.Lock()
	dIn := delta(in, s.lastIn)
	dOut := delta(out, s.lastOut)
	s.lastIn, s.lastOut = in, out
	q := classify(dIn, dOut)
	changed := q != s.quality
	s.quality = q
	s.mu.Unlock()

	if changed {
		log.Info().Str("module", "call.stats").Str("quality", string(q)).Uint64("in", dIn).Uint64("out", dOut).Msg("quality changed")
		if s.onQuality != nil {
			s.onQuality(q)
		}
	}
}

// delta guards against counter resets after an ICE restart.
func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func classify(in, out uint64) Quality {
	switch {
	case in > excellentBytes || out > excellentBytes:
		return QualityExcellent
	case in > goodBytes || out > goodBytes:
		return QualityGood
	case in > fairBytes || out > fairBytes:
		return QualityFair
	default:
		return QualityPoor
	}
}
