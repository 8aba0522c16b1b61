// Package settings implements SharedSettings, the immutable-feeling bag of
// output parameters (geometry, frame rate, pixel type) that every track and
// clip in a MultiTrackReader renders against.
package settings

import (
	"fmt"
	"sync"

	"github.com/opencodewin/mediacore/internal/hwaccel"
	"github.com/opencodewin/mediacore/media"
	"github.com/opencodewin/mediacore/rational"
)

const maxDimension = 16384

// Settings is a mutable-but-guarded container for the output parameters
// shared by a MultiTrackReader, its tracks, and their clips. Geometry may be
// changed while workers are paused; frame rate, color format, and element
// type are fixed for the lifetime of a configured reader (UpdateSettings
// rejects changes to those fields while workers are live).
type Settings struct {
	mu sync.RWMutex

	width, height int
	rate          rational.Rate
	format        media.PixelFormat
	elemType      media.ElementType
	hwaccel       hwaccel.Manager
}

// New validates and constructs a Settings instance. It returns an error
// describing the first invalid field it finds.
func New(width, height int, rate rational.Rate, format media.PixelFormat, elemType media.ElementType) (*Settings, error) {
	s := &Settings{}
	if err := s.setGeometryLocked(width, height); err != nil {
		return nil, err
	}
	if err := validateRate(rate); err != nil {
		return nil, err
	}
	if err := validateFormat(format); err != nil {
		return nil, err
	}
	s.rate = rate
	s.format = format
	s.elemType = elemType
	return s, nil
}

func validateRate(rate rational.Rate) error {
	if !rate.Valid() {
		return fmt.Errorf("settings: invalid frame rate %s: num and den must be positive", rate)
	}
	return nil
}

func validateFormat(format media.PixelFormat) error {
	if format != media.PixelRGBA {
		return fmt.Errorf("settings: unsupported pixel format %v: only RGBA is supported", format)
	}
	return nil
}

func (s *Settings) setGeometryLocked(width, height int) error {
	if width <= 0 || width > maxDimension {
		return fmt.Errorf("settings: width %d out of range (0,%d]", width, maxDimension)
	}
	if height <= 0 || height > maxDimension {
		return fmt.Errorf("settings: height %d out of range (0,%d]", height, maxDimension)
	}
	s.width = width
	s.height = height
	return nil
}

// Width returns the configured output width in pixels.
func (s *Settings) Width() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width
}

// Height returns the configured output height in pixels.
func (s *Settings) Height() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Rate returns the configured output frame rate.
func (s *Settings) Rate() rational.Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// Format returns the configured output pixel format.
func (s *Settings) Format() media.PixelFormat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// ElementType returns the configured output element (sample) type.
func (s *Settings) ElementType() media.ElementType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elemType
}

// HWAccel returns the configured hardware-accel manager handle, falling
// back to the process-wide default (lazily initialized) when none was set
// explicitly.
func (s *Settings) HWAccel() hwaccel.Manager {
	s.mu.RLock()
	h := s.hwaccel
	s.mu.RUnlock()
	if h != nil {
		return h
	}
	return hwaccel.GetDefault()
}

// SetHWAccel installs an explicit hardware-accel manager handle, overriding
// the process-wide default for this Settings instance.
func (s *Settings) SetHWAccel(m hwaccel.Manager) {
	s.mu.Lock()
	s.hwaccel = m
	s.mu.Unlock()
}

// SetGeometry changes the output width/height. Callers must ensure workers
// are paused before calling this; SharedSettings itself does not enforce
// that (the owning MultiTrackReader does, per UpdateSettings semantics).
func (s *Settings) SetGeometry(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setGeometryLocked(width, height)
}

// SyncVideoFrom copies the video-relevant fields (geometry, rate, format,
// element type) from other into s, leaving the hwaccel handle untouched.
// This is the "sync only the video-relevant fields" operation used when a
// clip or track adopts its owner's settings.
func (s *Settings) SyncVideoFrom(other *Settings) {
	other.mu.RLock()
	width, height, rate, format, elemType := other.width, other.height, other.rate, other.format, other.elemType
	other.mu.RUnlock()

	s.mu.Lock()
	s.width, s.height, s.rate, s.format, s.elemType = width, height, rate, format, elemType
	s.mu.Unlock()
}

// Clone returns an independent copy of s sharing no mutable state (the
// hwaccel handle is copied by reference, since it is an external,
// thread-safe collaborator).
func (s *Settings) Clone() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Settings{
		width:    s.width,
		height:   s.height,
		rate:     s.rate,
		format:   s.format,
		elemType: s.elemType,
		hwaccel:  s.hwaccel,
	}
}

// ImmutableFieldsEqual reports whether rate, format, and element type match
// between s and other — the fields UpdateSettings refuses to change while
// workers are live.
func (s *Settings) ImmutableFieldsEqual(other *Settings) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	return s.rate == other.rate && s.format == other.format && s.elemType == other.elemType
}
