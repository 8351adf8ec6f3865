package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Vision/internal/domain"
)

// State is the engine's connection lifecycle state.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	Room domain.RoomID
	Peer domain.PeerID

	ICEServers    []string
	StatsInterval time.Duration

	OnState   func(State)
	OnQuality func(Quality)
	OnTrack   func(*webrtc.TrackRemote)
	OnChat    func(json.RawMessage)
}

// Engine drives one peer's side of a call: it joins the room, runs the
// offer/answer exchange, queues early candidates, renegotiates track
// swaps and tears everything down exactly once. All signal events are
// handled sequentially by a single run loop.
type Engine struct {
	cfg   Config
	sig   Signaler
	media MediaSource

	sampler *Sampler

	mu               sync.Mutex
	pc               *webrtc.PeerConnection
	state            State
	offerOutstanding bool
	lastOfferer      bool
	pending          []webrtc.ICECandidateInit
	camTracks        []Track
	camVideo         Track
	screen           Track
	videoSender      *webrtc.RTPSender
	connectedAt      time.Time
	elapsed          time.Duration
	runCancel        context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

func NewEngine(cfg Config, sig Signaler, media MediaSource) (*Engine, error) {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultSTUNServers
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Second
	}

	e := &Engine{
		cfg:   cfg,
		sig:   sig,
		media: media,
		state: StateNew,
		done:  make(chan struct{}),
	}
	e.sampler = NewSampler(pcStats{e}, cfg.StatsInterval, cfg.OnQuality)

	pc, err := e.newTransport()
	if err != nil {
		return nil, err
	}
	e.pc = pc
	return e, nil
}

// newTransport builds a PeerConnection wired to the engine's callbacks.
// Also used to replace the transport when glare discards a session.
func (e *Engine) newTransport() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.cfg.ICEServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := e.sig.Relay(domain.KindICECandidate, c.ToJSON()); err != nil {
			log.Warn().Err(err).Str("module", "call.engine").Msg("relay candidate")
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "call.engine").Str("track", track.ID()).Str("kind", track.Kind().String()).Msg("remote track")
		if e.cfg.OnTrack != nil {
			e.cfg.OnTrack(track)
		}
	})
	pc.OnConnectionStateChange(e.onTransportState)
	return pc, nil
}

func (e *Engine) transport() *webrtc.PeerConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pc
}

// resetTransport discards the in-flight session and rebuilds the
// PeerConnection with the same outgoing tracks. Pion exposes no SDP
// rollback, so abandoning a local offer means starting a fresh
// transport.
func (e *Engine) resetTransport() error {
	pc, err := e.newTransport()
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.pc
	e.pc = pc
	tracks := e.camTracks
	screen := e.screen
	e.videoSender = nil
	e.mu.Unlock()

	if err := old.Close(); err != nil {
		log.Warn().Err(err).Str("module", "call.engine").Msg("close stale transport")
	}

	for _, t := range tracks {
		out := t
		if screen != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
			out = screen
		}
		sender, err := pc.AddTrack(out.Local())
		if err != nil {
			return fmt.Errorf("re-add %s track: %w", out.Kind(), err)
		}
		if out.Kind() == webrtc.RTPCodecTypeVideo {
			e.mu.Lock()
			e.videoSender = sender
			e.mu.Unlock()
		}
	}
	return nil
}

// Start joins the room and, when a peer is already present, takes the
// offerer role immediately: the first mover, not the arrival order,
// dictates who answers. An empty room leaves the engine idling in
// connecting until the user-joined event fires the same path.
func (e *Engine) Start(ctx context.Context) error {
	members, err := e.sig.Join(ctx, e.cfg.Room)
	if err != nil {
		e.setState(StateFailed)
		return fmt.Errorf("join room %s: %w", e.cfg.Room, err)
	}
	e.setState(StateConnecting)

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()

	// Offer before the run loop starts draining events: the initial
	// negotiation must never interleave with an incoming offer.
	if len(members) > 0 {
		if err := e.sendOffer(false); err != nil {
			return err
		}
	}
	go e.run(runCtx)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	events := e.sig.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			e.handleEvent(env)
		}
	}
}

func (e *Engine) handleEvent(env domain.Envelope) {
	if e.State() == StateClosed {
		return
	}
	switch env.Type {
	case domain.KindUserJoined:
		log.Info().Str("module", "call.engine").Str("peer", string(env.From)).Msg("peer joined, offering")
		if err := e.sendOffer(false); err != nil {
			log.Error().Err(err).Str("module", "call.engine").Msg("offer on join")
		}
	case domain.KindOffer:
		e.handleOffer(env)
	case domain.KindAnswer:
		e.handleAnswer(env)
	case domain.KindICECandidate:
		e.handleCandidate(env)
	case domain.KindUserLeft:
		log.Info().Str("module", "call.engine").Str("peer", string(env.From)).Msg("peer left")
		e.setState(StateDisconnected)
	case domain.KindChatMessage:
		if e.cfg.OnChat != nil {
			e.cfg.OnChat(env.Payload)
		}
	}
}

// sendOffer runs the offer path. A second attempt while one offer is
// unanswered is coalesced into the outstanding one.
func (e *Engine) sendOffer(restart bool) error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.offerOutstanding {
		e.mu.Unlock()
		log.Info().Str("module", "call.engine").Msg("offer already outstanding, coalescing")
		return nil
	}
	e.offerOutstanding = true
	e.mu.Unlock()

	fail := func(err error) error {
		e.clearOutstanding()
		e.setState(StateFailed)
		return err
	}

	if err := e.ensureLocalMedia(); err != nil {
		return fail(err)
	}

	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	pc := e.transport()
	offer, err := pc.CreateOffer(opts)
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("set local offer: %w", err))
	}

	e.mu.Lock()
	e.lastOfferer = true
	e.mu.Unlock()

	if err := e.sig.Relay(domain.KindOffer, offer); err != nil {
		e.clearOutstanding()
		return fmt.Errorf("relay offer: %w", err)
	}
	log.Info().Str("module", "call.engine").Bool("ice_restart", restart).Msg("offer sent")
	return nil
}

// ensureLocalMedia acquires camera and microphone once and attaches
// every track to the transport. Results arriving after teardown are
// discarded.
func (e *Engine) ensureLocalMedia() error {
	e.mu.Lock()
	if e.camTracks != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	tracks, err := e.media.AcquireLocalMedia()
	if err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		for _, t := range tracks {
			_ = t.Close()
		}
		return ErrClosed
	}
	e.camTracks = tracks
	pc := e.pc
	e.mu.Unlock()

	for _, t := range tracks {
		sender, err := pc.AddTrack(t.Local())
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			e.mu.Lock()
			e.videoSender = sender
			e.camVideo = t
			e.mu.Unlock()
		}
	}
	return nil
}

func (e *Engine) handleOffer(env domain.Envelope) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &desc); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("bad offer payload")
		return
	}

	e.mu.Lock()
	glare := e.offerOutstanding
	e.mu.Unlock()

	if glare {
		// Both sides offered at once. The lexicographically smaller peer
		// id abandons its offer and answers; the larger one waits for its
		// own answer. Timing never decides.
		if env.From != "" && e.cfg.Peer > env.From {
			log.Info().Str("module", "call.engine").Str("peer", string(env.From)).Msg("glare: ignoring colliding offer")
			return
		}
		log.Info().Str("module", "call.engine").Str("peer", string(env.From)).Msg("glare: abandoning local offer")
		if err := e.resetTransport(); err != nil {
			log.Error().Err(err).Str("module", "call.engine").Msg("reset transport")
			e.setState(StateFailed)
			return
		}
		e.clearOutstanding()
	}

	if err := e.ensureLocalMedia(); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("media for answer")
		e.setState(StateFailed)
		return
	}
	pc := e.transport()
	if err := pc.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("set remote offer")
		e.setState(StateFailed)
		return
	}
	e.drainCandidates()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("create answer")
		e.setState(StateFailed)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("set local answer")
		e.setState(StateFailed)
		return
	}

	e.mu.Lock()
	e.lastOfferer = false
	e.mu.Unlock()

	if err := e.sig.Relay(domain.KindAnswer, answer); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("relay answer")
	}
}

func (e *Engine) handleAnswer(env domain.Envelope) {
	e.mu.Lock()
	outstanding := e.offerOutstanding
	e.mu.Unlock()
	if !outstanding {
		log.Warn().Str("module", "call.engine").Msg("answer without outstanding offer, ignoring")
		return
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &desc); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("bad answer payload")
		return
	}
	if err := e.transport().SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("set remote answer")
		// The offer is dead either way; a later re-offer must not coalesce
		// into it.
		e.clearOutstanding()
		e.setState(StateFailed)
		return
	}
	e.clearOutstanding()
	e.drainCandidates()
}

// handleCandidate applies a remote candidate, or queues it while no
// remote description exists yet. An empty candidate is the
// end-of-candidates marker and is ignored.
func (e *Engine) handleCandidate(env domain.Envelope) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &cand); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("bad candidate payload")
		return
	}
	if cand.Candidate == "" {
		return
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return
	}
	pc := e.pc
	if pc.RemoteDescription() == nil {
		e.pending = append(e.pending, cand)
		n := len(e.pending)
		e.mu.Unlock()
		log.Debug().Str("module", "call.engine").Int("queued", n).Msg("candidate queued before remote description")
		return
	}
	e.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "call.engine").Msg("add candidate")
	}
}

// drainCandidates applies queued candidates in arrival order. One bad
// candidate is skipped without aborting the rest.
func (e *Engine) drainCandidates() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	pc := e.pc
	e.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "call.engine").Msg("drain: candidate skipped")
		}
	}
	if len(pending) > 0 {
		log.Info().Str("module", "call.engine").Int("count", len(pending)).Msg("drained candidate queue")
	}
}

func (e *Engine) clearOutstanding() {
	e.mu.Lock()
	e.offerOutstanding = false
	e.mu.Unlock()
}

func (e *Engine) onTransportState(s webrtc.PeerConnectionState) {
	log.Info().Str("module", "call.engine").Str("transport", s.String()).Msg("transport state")
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		e.setState(StateConnecting)
	case webrtc.PeerConnectionStateConnected:
		e.setState(StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		e.setState(StateDisconnected)
		go e.tryRestart()
	case webrtc.PeerConnectionStateFailed:
		e.setState(StateFailed)
	case webrtc.PeerConnectionStateClosed:
		// Close drives the closed state itself.
	}
}

// tryRestart is the best-effort disconnected -> connecting path: the
// side that produced the last offer re-offers with a fresh ICE session.
func (e *Engine) tryRestart() {
	e.mu.Lock()
	lastOfferer := e.lastOfferer
	closed := e.state == StateClosed
	e.mu.Unlock()
	if closed || !lastOfferer {
		return
	}
	e.setState(StateConnecting)
	if err := e.sendOffer(true); err != nil {
		log.Error().Err(err).Str("module", "call.engine").Msg("ice restart offer")
	}
}

// setState applies a transition and its timer side effects: entering
// connected starts a duration stretch and the quality sampler
// (duplicate-safe), leaving connected freezes the duration and stops
// the sampler. Closed is terminal.
func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == StateClosed || e.state == s {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.state = s
	if s == StateConnected {
		e.connectedAt = time.Now()
	} else if prev == StateConnected {
		e.elapsed += time.Since(e.connectedAt)
		e.connectedAt = time.Time{}
	}
	e.mu.Unlock()

	log.Info().Str("module", "call.engine").Str("from", string(prev)).Str("to", string(s)).Msg("state")

	if s == StateConnected {
		e.sampler.Start()
	} else if prev == StateConnected {
		e.sampler.Stop()
	}
	if e.cfg.OnState != nil {
		e.cfg.OnState(s)
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Duration reports total time spent connected. It only accrues while
// the call is connected; disconnects and teardown freeze it.
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.elapsed
	if !e.connectedAt.IsZero() {
		d += time.Since(e.connectedAt)
	}
	return d
}

// Quality reports the sampler's current classification.
func (e *Engine) Quality() Quality { return e.sampler.Quality() }

// ShareScreen swaps the outgoing video for a screen capture without
// touching connection state. Already sharing is a no-op.
func (e *Engine) ShareScreen() error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.screen != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	track, err := e.media.AcquireDisplayMedia()
	if err != nil {
		return fmt.Errorf("acquire display media: %w", err)
	}

	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		_ = track.Close()
		return ErrClosed
	}
	e.screen = track
	e.mu.Unlock()

	return e.swapVideo(track)
}

// StopShare returns the outgoing video to the camera and releases the
// screen capture. Not sharing is a no-op.
func (e *Engine) StopShare() error {
	e.mu.Lock()
	screen := e.screen
	e.screen = nil
	cam := e.camVideo
	e.mu.Unlock()

	if screen == nil {
		return nil
	}
	_ = screen.Close()
	if cam == nil {
		return nil
	}
	return e.swapVideo(cam)
}

// swapVideo replaces the outgoing video with t, in place when the
// transport supports it, otherwise through a fresh offer round.
func (e *Engine) swapVideo(t Track) error {
	e.mu.Lock()
	sender := e.videoSender
	pc := e.pc
	e.mu.Unlock()

	if sender == nil {
		added, err := pc.AddTrack(t.Local())
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		e.mu.Lock()
		e.videoSender = added
		e.mu.Unlock()
		// A new m-line needs a negotiation round.
		return e.sendOffer(false)
	}

	if err := sender.ReplaceTrack(t.Local()); err != nil {
		// Runtime without in-place replacement: renegotiate instead.
		log.Warn().Err(err).Str("module", "call.engine").Msg("replace track unsupported, renegotiating")
		if err := pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("remove video sender: %w", err)
		}
		added, err := pc.AddTrack(t.Local())
		if err != nil {
			return fmt.Errorf("re-add video track: %w", err)
		}
		e.mu.Lock()
		e.videoSender = added
		e.mu.Unlock()
		return e.sendOffer(false)
	}
	log.Info().Str("module", "call.engine").Str("track", t.Local().ID()).Msg("video track replaced")
	return nil
}

// Close tears the call down: capture streams stop, the transport
// closes, the relay learns of the departure. Idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		if e.state == StateConnected && !e.connectedAt.IsZero() {
			e.elapsed += time.Since(e.connectedAt)
			e.connectedAt = time.Time{}
		}
		e.state = StateClosed
		cancel := e.runCancel
		cam := e.camTracks
		screen := e.screen
		pc := e.pc
		e.camTracks, e.camVideo, e.screen = nil, nil, nil
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.sampler.Stop()

		for _, t := range cam {
			_ = t.Close()
		}
		if screen != nil {
			_ = screen.Close()
		}
		if err := pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "call.engine").Msg("close transport")
		}
		if err := e.sig.Leave(); err != nil {
			log.Warn().Err(err).Str("module", "call.engine").Msg("leave room")
		}
		if err := e.sig.Close(); err != nil {
			log.Warn().Err(err).Str("module", "call.engine").Msg("close signaler")
		}
		if e.cfg.OnState != nil {
			e.cfg.OnState(StateClosed)
		}
		log.Info().Str("module", "call.engine").Str("room", string(e.cfg.Room)).Msg("engine closed")
	})
	return nil
}
