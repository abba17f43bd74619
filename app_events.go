package main

import (
	"context"
	"errors"
	"time"

	"chordhook/internal/chord"
	"chordhook/internal/journal"
	"chordhook/internal/wsserver"
)

// journalWriteTimeout bounds one journal insert. Events drained after
// shutdown began are still written, so the context is not the daemon's.
const journalWriteTimeout = 2 * time.Second

// keyPayload is the data of a key topic envelope.
type keyPayload struct {
	Key   string `json:"key"`
	Code  uint32 `json:"code"`
	State string `json:"state"`
}

// chordPayload is the data of a chord topic envelope.
type chordPayload struct {
	Chord string `json:"chord"`
	// Key is the transition that completed the chord.
	Key string `json:"key"`
}

// publish sends data to hub subscribers of topic. No-op without a hub.
func (a *App) publish(topic, session string, at time.Time, data any) {
	if a.hub == nil {
		return
	}
	a.hub.Publish(topic, session, at, data)
}

// consumeEvents forwards dispatcher events until the dispatcher is closed.
func (a *App) consumeEvents(d *chord.Dispatcher) {
	for ev := range d.Events() {
		a.handleEvent(ev)
	}
}

// handleEvent publishes one transition and, when it fired a chord, the
// activation. Only chord names reach the journal, never raw keys.
func (a *App) handleEvent(ev chord.Event) {
	defer func() {
		a.recoverWorkerPanic("chord-consumer", recover())
	}()

	a.publish(wsserver.TopicKey, ev.Session, ev.At, keyPayload{
		Key:   ev.Key.String(),
		Code:  uint32(ev.Key.Raw()),
		State: ev.State.String(),
	})
	if !ev.Fired() {
		return
	}

	n := a.chordsFired.Add(1)
	a.log().Info("[DEBUG-CHORD] chord activated", "chord", ev.Chord, "session", ev.Session, "total", n)
	a.publish(wsserver.TopicChord, ev.Session, ev.At, chordPayload{Chord: ev.Chord, Key: ev.Key.String()})
	a.recordChord(ev)
}

func (a *App) recordChord(ev chord.Event) {
	if a.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := a.journal.Record(ctx, ev.Session, ev.Chord, ev.At); err != nil && !errors.Is(err, journal.ErrClosed) {
		a.log().Warn("[WARN-JOURNAL] failed to record chord", "chord", ev.Chord, "error", err)
	}
}

// hubBacklog replays the current status and the recent session log to new
// subscribers.
func (a *App) hubBacklog(topic string) [][]byte {
	switch topic {
	case wsserver.TopicStatus:
		st := a.statusSnapshot()
		if st.State == "" {
			return nil
		}
		frame, err := wsserver.EncodeEnvelope(wsserver.TopicStatus, st.Session, st.Since, st)
		if err != nil {
			return nil
		}
		return [][]byte{frame}
	case wsserver.TopicLog:
		entries := a.sessionLogTail(sessionLogBacklog)
		frames := make([][]byte, 0, len(entries))
		for _, e := range entries {
			at, err := time.Parse(sessionLogTimeFormat, e.Timestamp)
			if err != nil {
				at = time.Now()
			}
			frame, err := wsserver.EncodeEnvelope(wsserver.TopicLog, "", at, e)
			if err != nil {
				continue
			}
			frames = append(frames, frame)
		}
		return frames
	default:
		return nil
	}
}
