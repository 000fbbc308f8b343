package playback

import (
	"log"
	"runtime"
)

// NewPlatformBackend returns the platform's default video-capable backend,
// uninitialized, or nil on platforms with no native decode support. The
// caller still has to Initialize it, which may itself fail when the decode
// library is absent.
func NewPlatformBackend() PlayerBackend {
	switch runtime.GOOS {
	case "darwin", "linux":
		backend, err := NewBackend(BackendMPV)
		if err != nil {
			log.Printf("playback: %v", err)
			return nil
		}
		return backend
	case "android", "ios":
		return NewMobileBackend()
	default:
		log.Printf("playback: no media backend for %s", runtime.GOOS)
		return nil
	}
}

// IsPlatformSupported reports whether this platform has a video-capable
// backend. Pure predicate, no side effects, usable before any instance is
// constructed.
func IsPlatformSupported() bool {
	switch runtime.GOOS {
	case "darwin", "linux", "android", "ios":
		return true
	default:
		return false
	}
}

// PlatformPlayerName returns the name of the backend NewPlatformBackend
// would select.
func PlatformPlayerName() string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return "mpv"
	case "android", "ios":
		return "mobile"
	default:
		return "unsupported"
	}
}
