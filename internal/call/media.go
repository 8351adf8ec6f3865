package call

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrPermissionDenied is returned when the runtime refuses camera,
// microphone or screen capture.
var ErrPermissionDenied = errors.New("media permission denied")

// Track is one capturable local media track. Close releases the
// capture resource behind it.
type Track interface {
	Local() webrtc.TrackLocal
	Kind() webrtc.RTPCodecType
	Close() error
}

// MediaSource acquires local capture streams. Both acquisitions are
// capability-gated and may fail with ErrPermissionDenied.
type MediaSource interface {
	// AcquireLocalMedia opens the camera and microphone.
	AcquireLocalMedia() ([]Track, error)
	// AcquireDisplayMedia opens a screen-capture video track.
	AcquireDisplayMedia() (Track, error)
}

type sampleTrack struct {
	local *webrtc.TrackLocalStaticSample
	kind  webrtc.RTPCodecType
}

func (t *sampleTrack) Local() webrtc.TrackLocal  { return t.local }
func (t *sampleTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *sampleTrack) Close() error              { return nil }

// StaticMedia is a MediaSource over Pion sample tracks, for headless
// peers that feed media themselves (and for tests).
type StaticMedia struct{}

func NewStaticMedia() *StaticMedia { return &StaticMedia{} }

func (m *StaticMedia) AcquireLocalMedia() ([]Track, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "camera")
	if err != nil {
		return nil, fmt.Errorf("camera track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "camera")
	if err != nil {
		return nil, fmt.Errorf("microphone track: %w", err)
	}
	return []Track{
		&sampleTrack{local: video, kind: webrtc.RTPCodecTypeVideo},
		&sampleTrack{local: audio, kind: webrtc.RTPCodecTypeAudio},
	}, nil
}

func (m *StaticMedia) AcquireDisplayMedia() (Track, error) {
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	if err != nil {
		return nil, fmt.Errorf("screen track: %w", err)
	}
	return &sampleTrack{local: screen, kind: webrtc.RTPCodecTypeVideo}, nil
}
