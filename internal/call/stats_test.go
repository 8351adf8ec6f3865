package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

type fakeStats struct {
	mu     sync.Mutex
	report webrtc.StatsReport
	err    error
}

func (f *fakeStats) GetStats() (webrtc.StatsReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report, f.err
}

func (f *fakeStats) set(inBytes, outBytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = nil
	f.report = webrtc.StatsReport{
		"inbound-video":  webrtc.InboundRTPStreamStats{Kind: "video", BytesReceived: inBytes},
		"inbound-audio":  webrtc.InboundRTPStreamStats{Kind: "audio", BytesReceived: 999_999_999},
		"outbound-video": webrtc.OutboundRTPStreamStats{Kind: "video", BytesSent: outBytes},
	}
}

func (f *fakeStats) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in, out uint64
		want    Quality
	}{
		{1_000_001, 0, QualityExcellent},
		{0, 2_000_000, QualityExcellent},
		{600_000, 0, QualityGood},
		{1_000_000, 0, QualityGood},
		{150_000, 0, QualityFair},
		{0, 500_000, QualityFair},
		{100_000, 100_000, QualityPoor},
		{0, 0, QualityPoor},
	}
	for _, c := range cases {
		if got := classify(c.in, c.out); got != c.want {
			t.Errorf("classify(%d, %d)=%s, want %s", c.in, c.out, got, c.want)
		}
	}
}

func TestSampleWindowDeltas(t *testing.T) {
	src := &fakeStats{}
	var calls []Quality
	s := NewSampler(src, time.Hour, func(q Quality) { calls = append(calls, q) })

	src.set(600_000, 0)
	s.sample()
	if got := s.Quality(); got != QualityGood {
		t.Fatalf("first window quality=%s, want good", got)
	}
	if len(calls) != 0 {
		t.Fatalf("callback fired %d times on unchanged quality", len(calls))
	}

	// Counters are cumulative: only 50k more arrived this window.
	src.set(650_000, 0)
	s.sample()
	if got := s.Quality(); got != QualityPoor {
		t.Fatalf("second window quality=%s, want poor", got)
	}
	if len(calls) != 1 || calls[0] != QualityPoor {
		t.Fatalf("callback calls=%v, want single poor notification", calls)
	}

	src.set(3_000_000, 0)
	s.sample()
	if got := s.Quality(); got != QualityExcellent {
		t.Fatalf("third window quality=%s, want excellent", got)
	}
}

func TestAudioBytesDoNotCount(t *testing.T) {
	src := &fakeStats{}
	s := NewSampler(src, time.Hour, nil)

	src.set(0, 0)
	s.sample()
	if got := s.Quality(); got != QualityPoor {
		t.Fatalf("quality=%s, want poor when only audio flows", got)
	}
}

func TestStatsFailureKeepsPreviousQuality(t *testing.T) {
	src := &fakeStats{}
	s := NewSampler(src, time.Hour, nil)

	src.set(600_000, 0)
	s.sample()
	src.fail(errors.New("transport gone"))
	s.sample()

	if got := s.Quality(); got != QualityGood {
		t.Fatalf("quality=%s after failed query, want previous good", got)
	}
}

func TestCounterResetAfterRestart(t *testing.T) {
	src := &fakeStats{}
	s := NewSampler(src, time.Hour, nil)

	src.set(5_000_000, 0)
	s.sample()

	// Fresh ICE session resets the counters below the last reading.
	src.set(200_000, 0)
	s.sample()
	if got := s.Quality(); got != QualityFair {
		t.Fatalf("quality=%s after counter reset, want fair from absolute value", got)
	}
}

func TestStartIsDuplicateSafe(t *testing.T) {
	src := &fakeStats{}
	s := NewSampler(src, time.Hour, nil)

	s.Start()
	stop := s.stop
	s.Start()
	if s.stop != stop {
		t.Fatal("second Start replaced the running loop")
	}

	s.Stop()
	s.Stop()
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		t.Fatal("sampler still running after Stop")
	}

	s.Start()
	s.mu.Lock()
	running = s.running
	s.mu.Unlock()
	if !running {
		t.Fatal("sampler did not restart after Stop")
	}
	s.Stop()
}
