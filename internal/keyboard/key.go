package keyboard

import (
	"fmt"
	"slices"
	"strings"
)

// RawCode is an X11 keycode as carried in the detail byte of a key event.
type RawCode uint32

// Key identifies a physical key. Its numeric value is the X11 keycode of the
// key on a standard evdev-based server, so Key and RawCode convert without a
// lookup table. The zero value KeyNone is not part of the supported set.
type Key uint8

// KeyNone marks an unconfigured table slot. It never matches a decoded event.
const KeyNone Key = 0

// Supported keys (X11 keycodes, evdev rules).
const (
	Escape        Key = 9
	Num1          Key = 10
	Num2          Key = 11
	Num3          Key = 12
	Num4          Key = 13
	Num5          Key = 14
	Num6          Key = 15
	Num7          Key = 16
	Num8          Key = 17
	Num9          Key = 18
	Num0          Key = 19
	Minus         Key = 20
	Equal         Key = 21
	Backspace     Key = 22
	Tab           Key = 23
	KeyQ          Key = 24
	KeyW          Key = 25
	KeyE          Key = 26
	KeyR          Key = 27
	KeyT          Key = 28
	KeyY          Key = 29
	KeyU          Key = 30
	KeyI          Key = 31
	KeyO          Key = 32
	KeyP          Key = 33
	LeftBracket   Key = 34
	RightBracket  Key = 35
	Return        Key = 36
	ControlLeft   Key = 37
	KeyA          Key = 38
	KeyS          Key = 39
	KeyD          Key = 40
	KeyF          Key = 41
	KeyG          Key = 42
	KeyH          Key = 43
	KeyJ          Key = 44
	KeyK          Key = 45
	KeyL          Key = 46
	SemiColon     Key = 47
	Quote         Key = 48
	BackQuote     Key = 49
	ShiftLeft     Key = 50
	BackSlash     Key = 51
	KeyZ          Key = 52
	KeyX          Key = 53
	KeyC          Key = 54
	KeyV          Key = 55
	KeyB          Key = 56
	KeyN          Key = 57
	KeyM          Key = 58
	Comma         Key = 59
	Dot           Key = 60
	Slash         Key = 61
	ShiftRight    Key = 62
	KpMultiply    Key = 63
	Alt           Key = 64
	Space         Key = 65
	CapsLock      Key = 66
	F1            Key = 67
	F2            Key = 68
	F3            Key = 69
	F4            Key = 70
	F5            Key = 71
	F6            Key = 72
	F7            Key = 73
	F8            Key = 74
	F9            Key = 75
	F10           Key = 76
	NumLock       Key = 77
	ScrollLock    Key = 78
	Kp7           Key = 79
	Kp8           Key = 80
	Kp9           Key = 81
	KpMinus       Key = 82
	Kp4           Key = 83
	Kp5           Key = 84
	Kp6           Key = 85
	KpPlus        Key = 86
	Kp1           Key = 87
	Kp2           Key = 88
	Kp3           Key = 89
	Kp0           Key = 90
	KpDelete      Key = 91
	IntlBackslash Key = 94
	F11           Key = 95
	F12           Key = 96
	KpReturn      Key = 104
	ControlRight  Key = 105
	KpDivide      Key = 106
	PrintScreen   Key = 107
	AltGr         Key = 108
	Home          Key = 110
	UpArrow       Key = 111
	PageUp        Key = 112
	LeftArrow     Key = 113
	RightArrow    Key = 114
	End           Key = 115
	DownArrow     Key = 116
	PageDown      Key = 117
	Insert        Key = 118
	Delete        Key = 119
	Pause         Key = 127
	MetaLeft      Key = 133
)

var keyNames = map[Key]string{
	Escape:        "Escape",
	Num1:          "Num1",
	Num2:          "Num2",
	Num3:          "Num3",
	Num4:          "Num4",
	Num5:          "Num5",
	Num6:          "Num6",
	Num7:          "Num7",
	Num8:          "Num8",
	Num9:          "Num9",
	Num0:          "Num0",
	Minus:         "Minus",
	Equal:         "Equal",
	Backspace:     "Backspace",
	Tab:           "Tab",
	KeyQ:          "KeyQ",
	KeyW:          "KeyW",
	KeyE:          "KeyE",
	KeyR:          "KeyR",
	KeyT:          "KeyT",
	KeyY:          "KeyY",
	KeyU:          "KeyU",
	KeyI:          "KeyI",
	KeyO:          "KeyO",
	KeyP:          "KeyP",
	LeftBracket:   "LeftBracket",
	RightBracket:  "RightBracket",
	Return:        "Return",
	ControlLeft:   "ControlLeft",
	KeyA:          "KeyA",
	KeyS:          "KeyS",
	KeyD:          "KeyD",
	KeyF:          "KeyF",
	KeyG:          "KeyG",
	KeyH:          "KeyH",
	KeyJ:          "KeyJ",
	KeyK:          "KeyK",
	KeyL:          "KeyL",
	SemiColon:     "SemiColon",
	Quote:         "Quote",
	BackQuote:     "BackQuote",
	ShiftLeft:     "ShiftLeft",
	BackSlash:     "BackSlash",
	KeyZ:          "KeyZ",
	KeyX:          "KeyX",
	KeyC:          "KeyC",
	KeyV:          "KeyV",
	KeyB:          "KeyB",
	KeyN:          "KeyN",
	KeyM:          "KeyM",
	Comma:         "Comma",
	Dot:           "Dot",
	Slash:         "Slash",
	ShiftRight:    "ShiftRight",
	KpMultiply:    "KpMultiply",
	Alt:           "Alt",
	Space:         "Space",
	CapsLock:      "CapsLock",
	F1:            "F1",
	F2:            "F2",
	F3:            "F3",
	F4:            "F4",
	F5:            "F5",
	F6:            "F6",
	F7:            "F7",
	F8:            "F8",
	F9:            "F9",
	F10:           "F10",
	NumLock:       "NumLock",
	ScrollLock:    "ScrollLock",
	Kp7:           "Kp7",
	Kp8:           "Kp8",
	Kp9:           "Kp9",
	KpMinus:       "KpMinus",
	Kp4:           "Kp4",
	Kp5:           "Kp5",
	Kp6:           "Kp6",
	KpPlus:        "KpPlus",
	Kp1:           "Kp1",
	Kp2:           "Kp2",
	Kp3:           "Kp3",
	Kp0:           "Kp0",
	KpDelete:      "KpDelete",
	IntlBackslash: "IntlBackslash",
	F11:           "F11",
	F12:           "F12",
	KpReturn:      "KpReturn",
	ControlRight:  "ControlRight",
	KpDivide:      "KpDivide",
	PrintScreen:   "PrintScreen",
	AltGr:         "AltGr",
	Home:          "Home",
	UpArrow:       "UpArrow",
	PageUp:        "PageUp",
	LeftArrow:     "LeftArrow",
	RightArrow:    "RightArrow",
	End:           "End",
	DownArrow:     "DownArrow",
	PageDown:      "PageDown",
	Insert:        "Insert",
	Delete:        "Delete",
	Pause:         "Pause",
	MetaLeft:      "MetaLeft",
}

// keysByName is keyed by the lower-cased name.
var keysByName = func() map[string]Key {
	m := make(map[string]Key, len(keyNames))
	for k, name := range keyNames {
		m[strings.ToLower(name)] = k
	}
	return m
}()

// KeyFromRaw returns the key for an X11 keycode. Unmapped codes are common
// (international layouts, media keys) and report false.
func KeyFromRaw(code RawCode) (Key, bool) {
	if code > 0xff {
		return KeyNone, false
	}
	k := Key(code)
	if _, ok := keyNames[k]; !ok {
		return KeyNone, false
	}
	return k, true
}

// Raw returns the X11 keycode of k.
func (k Key) Raw() RawCode { return RawCode(k) }

// Valid reports whether k belongs to the supported key set.
func (k Key) Valid() bool {
	_, ok := keyNames[k]
	return ok
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	if k == KeyNone {
		return "None"
	}
	return fmt.Sprintf("Key(%d)", uint8(k))
}

// ParseKey resolves a key name case-insensitively.
func ParseKey(name string) (Key, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return KeyNone, fmt.Errorf("keyboard: empty key name")
	}
	k, ok := keysByName[trimmed]
	if !ok {
		return KeyNone, fmt.Errorf("keyboard: unknown key %q", name)
	}
	return k, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("keyboard: cannot marshal unsupported key %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Keys returns the supported key set in ascending keycode order.
func Keys() []Key {
	out := make([]Key, 0, len(keyNames))
	for k := range keyNames {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
