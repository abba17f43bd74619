package main

import (
	"time"

	"chordhook/internal/keyboard"
	"chordhook/internal/wsserver"
)

// captureStatus is the payload of the status topic.
type captureStatus struct {
	// State is one of the capture* state names.
	State    string   `json:"state"`
	Session  string   `json:"session,omitempty"`
	Backend  string   `json:"backend"`
	Display  string   `json:"display,omitempty"`
	Chords   []string `json:"chords,omitempty"`
	Restarts int      `json:"restarts"`

	// Dropped counts events lost to a full dispatcher queue in the last
	// finished session.
	Dropped uint64    `json:"dropped"`
	Fired   uint64    `json:"fired"`
	Error   string    `json:"error,omitempty"`
	Since   time.Time `json:"since"`
}

const (
	captureStarting  = "starting"
	captureListening = "listening"
	captureIdle      = "idle"
	captureStopped   = "stopped"
	captureFailed    = "failed"
)

// statusSnapshot returns a copy of the current capture status.
func (a *App) statusSnapshot() captureStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	st := a.status
	st.Chords = append([]string(nil), a.status.Chords...)
	return st
}

// updateStatus applies fn to the capture status, stamps it and publishes the
// result. fn runs under statusMu and must not log or publish.
func (a *App) updateStatus(fn func(st *captureStatus)) {
	a.statusMu.Lock()
	fn(&a.status)
	a.status.Backend = keyboard.Backend()
	a.status.Fired = a.chordsFired.Load()
	a.status.Since = time.Now()
	a.statusMu.Unlock()

	st := a.statusSnapshot()
	a.publish(wsserver.TopicStatus, st.Session, st.Since, st)
}

// setCaptureStarting marks a session as starting with the given chords.
func (a *App) setCaptureStarting(session, display string, chords []string) {
	a.updateStatus(func(st *captureStatus) {
		st.State = captureStarting
		st.Session = session
		st.Display = display
		st.Chords = chords
		st.Error = ""
	})
}

// setCaptureListening marks the session live once the server delivers events.
func (a *App) setCaptureListening(session string) {
	a.updateStatus(func(st *captureStatus) {
		if st.Session == session {
			st.State = captureListening
		}
	})
}

// setCaptureIdle marks the daemon as running without chords.
func (a *App) setCaptureIdle() {
	a.updateStatus(func(st *captureStatus) {
		st.State = captureIdle
		st.Session = ""
		st.Chords = nil
		st.Error = ""
	})
}

// setCaptureStopped records the end of a session.
func (a *App) setCaptureStopped(session string, dropped uint64, err error) {
	a.updateStatus(func(st *captureStatus) {
		if st.Session != session {
			return
		}
		st.State = captureStopped
		st.Dropped = dropped
		if err != nil {
			st.State = captureFailed
			st.Error = err.Error()
		}
	})
}

// recordCaptureFailure counts a supervised restart. attempt 0 marks a
// failure that will not be retried.
func (a *App) recordCaptureFailure(attempt int, err error) {
	a.updateStatus(func(st *captureStatus) {
		st.State = captureFailed
		if attempt > 0 {
			st.Restarts++
		}
		if err != nil {
			st.Error = err.Error()
		}
	})
}
