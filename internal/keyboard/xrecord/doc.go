// Package xrecord binds the subset of libXtst's RECORD client library needed
// to observe core key events from every client on a display.
//
// The cgo binding needs linux with cgo enabled and can be excluded with the
// nox11 build tag.
package xrecord
