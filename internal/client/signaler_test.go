package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	router "github.com/dkeye/Vision/internal/adapters/http"
	"github.com/dkeye/Vision/internal/app"
	"github.com/dkeye/Vision/internal/config"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
)

func newRelay(t *testing.T) (string, *app.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:          "release",
		StaticPath:    t.TempDir(),
		ReadLimit:     65536,
		PingPeriod:    50 * time.Second,
		Secret:        "test-secret",
		RoomCap:       2,
		StunServers:   []string{"stun:stun.test:3478"},
		StatsInterval: 5 * time.Second,
	}
	hub := app.NewHub(cfg.RoomCap)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, hub))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal", hub
}

func dial(t *testing.T, url string) *Signaler {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func join(t *testing.T, s *Signaler, room domain.RoomID) []domain.PeerID {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	users, err := s.Join(ctx, room)
	if err != nil {
		t.Fatalf("Join %s: %v", room, err)
	}
	return users
}

func recv(t *testing.T, s *Signaler, want domain.Kind) domain.Envelope {
	t.Helper()
	select {
	case env, ok := <-s.Events():
		if !ok {
			t.Fatalf("events channel closed while waiting for %s", want)
		}
		if env.Type != want {
			t.Fatalf("received %s envelope, want %s", env.Type, want)
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
	return domain.Envelope{}
}

func waitRoomCount(t *testing.T, hub *app.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.Rooms()) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub has %d rooms, want %d", len(hub.Rooms()), n)
}

// TestCallScenario walks a full two-party exchange through a live
// relay: join, membership notifications, offer/answer/candidate
// relaying with stamped sender ids, and leave.
func TestCallScenario(t *testing.T) {
	url, hub := newRelay(t)

	alice := dial(t, url)
	if users := join(t, alice, "abc123"); len(users) != 0 {
		t.Fatalf("first joiner sees %d members, want empty room", len(users))
	}

	bob := dial(t, url)
	bobView := join(t, bob, "abc123")
	if len(bobView) != 1 {
		t.Fatalf("second joiner sees %d members, want 1", len(bobView))
	}
	aliceID := bobView[0]

	joined := recv(t, alice, domain.KindUserJoined)
	bobID := joined.From
	if bobID == "" || bobID == aliceID {
		t.Fatalf("user-joined From=%q, want the newcomer's distinct id", bobID)
	}

	// The newcomer offers; the relay must deliver payload verbatim
	// with the sender stamped.
	if err := bob.Relay(domain.KindOffer, map[string]string{"type": "offer", "sdp": "v=0 bob"}); err != nil {
		t.Fatalf("relay offer: %v", err)
	}
	offer := recv(t, alice, domain.KindOffer)
	if offer.From != bobID {
		t.Fatalf("offer From=%s, want %s", offer.From, bobID)
	}
	var sdp map[string]string
	if err := json.Unmarshal(offer.Payload, &sdp); err != nil {
		t.Fatalf("offer payload: %v", err)
	}
	if sdp["sdp"] != "v=0 bob" {
		t.Fatalf("offer sdp=%q, want it untouched by the relay", sdp["sdp"])
	}

	if err := alice.Relay(domain.KindAnswer, map[string]string{"type": "answer", "sdp": "v=0 alice"}); err != nil {
		t.Fatalf("relay answer: %v", err)
	}
	answer := recv(t, bob, domain.KindAnswer)
	if answer.From != aliceID {
		t.Fatalf("answer From=%s, want %s", answer.From, aliceID)
	}

	// Candidates keep arrival order.
	for _, marker := range []string{"c1", "c2"} {
		if err := alice.Relay(domain.KindICECandidate, map[string]string{"candidate": marker}); err != nil {
			t.Fatalf("relay candidate %s: %v", marker, err)
		}
	}
	for _, want := range []string{"c1", "c2"} {
		env := recv(t, bob, domain.KindICECandidate)
		var cand map[string]string
		if err := json.Unmarshal(env.Payload, &cand); err != nil {
			t.Fatalf("candidate payload: %v", err)
		}
		if cand["candidate"] != want {
			t.Fatalf("candidate=%q, want %q in order", cand["candidate"], want)
		}
	}

	if err := bob.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	left := recv(t, alice, domain.KindUserLeft)
	if left.From != bobID {
		t.Fatalf("user-left From=%s, want %s", left.From, bobID)
	}

	if err := alice.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	waitRoomCount(t, hub, 0)
}

func TestThirdJoinerRejected(t *testing.T) {
	url, hub := newRelay(t)

	a := dial(t, url)
	join(t, a, "abc123")
	b := dial(t, url)
	join(t, b, "abc123")

	c := dial(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Join(ctx, "abc123"); !errors.Is(err, core.ErrRoomFull) {
		t.Fatalf("third join err=%v, want ErrRoomFull", err)
	}

	rooms := hub.Rooms()
	if len(rooms) != 1 || rooms[0].MemberCount != 2 {
		t.Fatalf("rooms=%+v, want the pair untouched by the rejected join", rooms)
	}
}

func TestRejoinAfterRoomEmptied(t *testing.T) {
	url, hub := newRelay(t)

	a := dial(t, url)
	join(t, a, "abc123")
	if err := a.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	waitRoomCount(t, hub, 0)

	b := dial(t, url)
	if users := join(t, b, "abc123"); len(users) != 0 {
		t.Fatalf("rejoin sees %d members, want fresh empty room", len(users))
	}
}

func TestDisconnectActsAsLeave(t *testing.T) {
	url, _ := newRelay(t)

	a := dial(t, url)
	join(t, a, "abc123")
	b := dial(t, url)
	join(t, b, "abc123")
	bobID := recv(t, a, domain.KindUserJoined).From

	// Dropping the socket without a leave message must still evict the
	// peer and notify the survivor.
	_ = b.Close()

	left := recv(t, a, domain.KindUserLeft)
	if left.From != bobID {
		t.Fatalf("user-left From=%s, want %s", left.From, bobID)
	}
}

func TestWebRTCConfigEndpoint(t *testing.T) {
	wsURL, _ := newRelay(t)
	base := "http" + strings.TrimPrefix(strings.TrimSuffix(wsURL, "/api/ws/signal"), "ws")

	resp, err := http.Get(base + "/api/webrtc-config")
	if err != nil {
		t.Fatalf("GET webrtc-config: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"ice_servers"`
		StatsInterval float64 `json:"stats_interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ICEServers) != 1 || len(body.ICEServers[0].URLs) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.test:3478" {
		t.Fatalf("ice servers=%+v, want the configured STUN list", body.ICEServers)
	}
	if body.StatsInterval != 5 {
		t.Fatalf("stats_interval=%v, want 5 seconds", body.StatsInterval)
	}
}

func TestRelayAfterCloseFails(t *testing.T) {
	url, _ := newRelay(t)

	s := dial(t, url)
	join(t, s, "abc123")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Relay(domain.KindOffer, map[string]string{}); !errors.Is(err, ErrSignalerClosed) {
		t.Fatalf("relay after close err=%v, want ErrSignalerClosed", err)
	}
}
