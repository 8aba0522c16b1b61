// Package hwaccel holds the process-wide default hardware-accel manager
// handle. Per the design's global-state note, this is the one piece of
// state in the compositing core that is not per-instance: it is lazily
// initialized on first use and torn down once at process exit.
//
// The manager itself is an external collaborator (the core never performs
// hardware-accelerated decode decisions); this package only owns its
// lifecycle.
package hwaccel

import "sync"

// Manager is the narrow handle the core passes through to clip source
// readers that can benefit from hardware decode/scale selection. Concrete
// implementations are supplied by the host application; the core treats
// Manager as opaque.
type Manager interface {
	// Name identifies the backend, e.g. "vaapi", "videotoolbox", "none".
	Name() string
	// Close releases any backend resources.
	Close() error
}

type noopManager struct{}

func (noopManager) Name() string { return "none" }
func (noopManager) Close() error { return nil }

var (
	once    sync.Once
	current Manager
)

// GetDefault returns the process-wide default Manager, constructing a no-op
// backend on first call. Call SetDefault before the first GetDefault to
// install a real backend.
func GetDefault() Manager {
	once.Do(func() {
		if current == nil {
			current = noopManager{}
		}
	})
	return current
}

// SetDefault installs m as the process-wide default manager. It has no
// effect once GetDefault has already run; callers that need a non-default
// backend must call SetDefault during process startup, before any
// SharedSettings pulls in the default.
func SetDefault(m Manager) {
	once.Do(func() {
		current = m
	})
}

// Teardown releases the current default manager, if one was initialized,
// and allows a subsequent GetDefault/SetDefault pair to install a new one.
// Intended for process-exit cleanup and tests; not used on the hot path.
func Teardown() error {
	var err error
	if current != nil {
		err = current.Close()
	}
	current = nil
	once = sync.Once{}
	return err
}
