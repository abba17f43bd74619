//go:build linux && cgo && !nox11

package keyboard

import "chordhook/internal/keyboard/xrecord"

const backendName = "x11-record"

func init() {
	xrecord.SetInterceptor(dispatchRecord)
	newRecorder = func(display string) recorder {
		return &x11Recorder{display: display}
	}
}

// x11Recorder adapts xrecord.Conn to the engine.
type x11Recorder struct {
	display string
	conn    *xrecord.Conn
}

func (r *x11Recorder) Open() error {
	conn, err := xrecord.Open(r.display)
	if err != nil {
		return err
	}
	r.conn = conn
	return nil
}

func (r *x11Recorder) NegotiateExtension() (int, int, error) { return r.conn.QueryVersion() }
func (r *x11Recorder) CreateContext() error                  { return r.conn.CreateContext() }
func (r *x11Recorder) EnableContext(token uintptr) error     { return r.conn.EnableAsync(token, xrecord.StartTimeout) }
func (r *x11Recorder) FD() int                               { return r.conn.FD() }
func (r *x11Recorder) Drain()                                { r.conn.ProcessReplies() }
func (r *x11Recorder) Disable() error                        { return r.conn.Disable() }
func (r *x11Recorder) Free()                                 { r.conn.Free() }
func (r *x11Recorder) Close()                                { r.conn.Close() }
