//go:build !linux || !cgo || nox11

package keyboard

// Without the X11 backend newRecorder stays nil and Listen reports
// ErrUnsupportedPlatform.
const backendName = ""
