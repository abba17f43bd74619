//go:build linux && cgo && !nox11

package xrecord

/*
#cgo pkg-config: x11 xtst
#include <stdint.h>
#include <stdlib.h>
#include <X11/Xlib.h>
#include <X11/extensions/record.h>
#include "record.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// InterceptFunc receives one recorded payload. data is only valid for the
// duration of the call. token is the value passed to EnableAsync.
type InterceptFunc func(token uintptr, category int, data []byte)

var (
	interceptor      atomic.Pointer[InterceptFunc]
	errorHandlerOnce sync.Once
	// startedToken is the token of the last context that received StartOfData.
	startedToken atomic.Uintptr
)

// SetInterceptor installs the process-wide receiver for recorded data.
func SetInterceptor(fn InterceptFunc) {
	interceptor.Store(&fn)
}

//export goRecordIntercept
func goRecordIntercept(token C.uintptr_t, category C.int, data *C.uchar, words C.ulong) {
	if category == C.XRecordStartOfData {
		startedToken.Store(uintptr(token))
	}
	fn := interceptor.Load()
	if fn == nil {
		return
	}
	var payload []byte
	if data != nil && words > 0 {
		// data_len counts 4-byte units.
		payload = unsafe.Slice((*byte)(unsafe.Pointer(data)), int(words)*4)
	}
	(*fn)(uintptr(token), int(category), payload)
}

// Conn holds the control and data connections of one recording.
// It is not safe for concurrent use.
type Conn struct {
	control *C.Display
	data    *C.Display
	context C.XRecordContext
}

// Open connects twice to the named display (empty means $DISPLAY). RECORD
// requires the enabled context to own a connection of its own.
func Open(name string) (*Conn, error) {
	errorHandlerOnce.Do(func() { C.chordhook_install_error_handler() })

	var cname *C.char
	if name != "" {
		cname = C.CString(name)
		defer C.free(unsafe.Pointer(cname))
	}
	control := C.XOpenDisplay(cname)
	if control == nil {
		return nil, fmt.Errorf("xrecord: open control display %q", name)
	}
	data := C.XOpenDisplay(cname)
	if data == nil {
		C.XCloseDisplay(control)
		return nil, fmt.Errorf("xrecord: open data display %q", name)
	}
	return &Conn{control: control, data: data}, nil
}

// QueryVersion negotiates the RECORD extension on the control connection.
func (c *Conn) QueryVersion() (major, minor int, err error) {
	var cmajor, cminor C.int
	if C.XRecordQueryVersion(c.control, &cmajor, &cminor) == 0 {
		return 0, 0, errors.New("xrecord: server does not support RECORD")
	}
	return int(cmajor), int(cminor), nil
}

// CreateContext registers interest in KeyPress..KeyRelease from all clients.
func (c *Conn) CreateContext() error {
	ctx := C.chordhook_create_context(c.control)
	C.XSync(c.control, C.False)
	if code := C.chordhook_take_error(); code != 0 {
		return fmt.Errorf("xrecord: create context: X error %d", int(code))
	}
	if ctx == 0 {
		return errors.New("xrecord: create context returned no id")
	}
	c.context = ctx
	return nil
}

// EnableAsync starts delivery on the data connection. Intercepts are
// dispatched from ProcessReplies with token as their first argument.
//
// The enable request has no synchronous reply, so EnableAsync drains the
// data connection until the server sends StartOfData or rejects the request
// with an X error, waiting at most timeout.
func (c *Conn) EnableAsync(token uintptr, timeout time.Duration) error {
	C.chordhook_take_error()
	startedToken.Store(0)
	if C.chordhook_enable_context(c.data, c.context, C.uintptr_t(token)) == 0 {
		return errors.New("xrecord: enable context rejected")
	}
	C.XFlush(c.data)

	fds := []unix.PollFd{{Fd: int32(c.FD()), Events: unix.POLLIN}}
	wait := func(d time.Duration) error {
		fds[0].Revents = 0
		ms := int(d.Milliseconds())
		if ms < 1 {
			ms = 1
		}
		if _, err := unix.Poll(fds, ms); err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
		return nil
	}
	drain := func() (int, bool) {
		C.XRecordProcessReplies(c.data)
		return int(C.chordhook_take_error()), startedToken.Load() == token
	}
	return awaitStart(timeout, wait, drain)
}

// FD returns the data connection's socket for readiness polling.
func (c *Conn) FD() int {
	return int(C.XConnectionNumber(c.data))
}

// ProcessReplies dispatches every reply already read from the data connection.
func (c *Conn) ProcessReplies() {
	C.XRecordProcessReplies(c.data)
}

// Disable stops delivery. It is sent on the control connection because the
// data connection is dedicated to the enabled context.
func (c *Conn) Disable() error {
	if C.XRecordDisableContext(c.control, c.context) == 0 {
		return errors.New("xrecord: disable context failed")
	}
	C.XFlush(c.control)
	return nil
}

// Free releases the server-side context.
func (c *Conn) Free() {
	if c.context == 0 {
		return
	}
	C.XRecordFreeContext(c.control, c.context)
	C.XSync(c.control, C.False)
	c.context = 0
}

// Close closes both connections. Safe to call more than once.
func (c *Conn) Close() {
	if c.data != nil {
		C.XCloseDisplay(c.data)
		c.data = nil
	}
	if c.control != nil {
		C.XCloseDisplay(c.control)
		c.control = nil
	}
}
