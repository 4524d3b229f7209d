//go:build govips && cgo

package compress

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup initialises libvips. Call once per process before compressing.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

// PrimaryBackend names the compiled-in primary encoder.
func PrimaryBackend() string { return "libvips" }

func newPrimaryEncoder() PrimaryEncoder {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return unavailablePrimary{}
	}
	return vipsEncoder{}
}
