package keyboard

import "errors"

// Errors returned by Listen. Each is returned at most once per call and none
// is retried internally; callers may call Listen again.
var (
	// ErrUnsupportedPlatform is returned when the binary was built without the
	// X11 RECORD backend (non-linux, CGO_ENABLED=0, or the nox11 tag).
	ErrUnsupportedPlatform = errors.New("keyboard: global key capture is not supported on this platform")

	// ErrMissingDisplay is returned when no X display can be opened.
	ErrMissingDisplay = errors.New("keyboard: cannot open X display")

	// ErrExtensionUnavailable is returned when the server refuses the RECORD extension.
	ErrExtensionUnavailable = errors.New("keyboard: RECORD extension unavailable")

	// ErrCreateContextFailed is returned when the server rejects the record context.
	ErrCreateContextFailed = errors.New("keyboard: cannot create record context")

	// ErrEnableFailed is returned when the record context cannot be enabled.
	ErrEnableFailed = errors.New("keyboard: cannot enable record context")

	// ErrAlreadyListening is returned when another capture session is active
	// in this process. The server accepts one registration per client, and the
	// intercept trampoline has a single slot.
	ErrAlreadyListening = errors.New("keyboard: a capture session is already active")

	// ErrConnectionLost is returned when waiting on the display connection fails.
	ErrConnectionLost = errors.New("keyboard: display connection lost")

	// ErrInvalidKeyMapping is returned when the key mapping function panics,
	// typically by indexing past the table length.
	ErrInvalidKeyMapping = errors.New("keyboard: invalid key mapping")

	// ErrStartupPanicked is returned when the startup callback panics. The
	// session is torn down first.
	ErrStartupPanicked = errors.New("keyboard: startup callback panicked")

	// ErrInvalidLength is returned for a negative table length.
	ErrInvalidLength = errors.New("keyboard: invalid table length")
)
