package xprobe

import (
	"fmt"

	"chordhook/internal/keyboard"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
)

// Labels returns the unmodified keysym name the server's current keyboard
// mapping assigns to each key, e.g. ShiftLeft -> "Shift_L". Keys without a
// keysym are omitted.
func Labels(display string, keys []keyboard.Key) (map[keyboard.Key]string, error) {
	name, err := ResolveDisplay(display)
	if err != nil {
		return nil, err
	}
	xu, err := xgbutil.NewConnDisplay(name)
	if err != nil {
		return nil, fmt.Errorf("xprobe: connect %q: %w", name, err)
	}
	defer xu.Conn().Close()

	keybind.Initialize(xu)

	out := make(map[keyboard.Key]string, len(keys))
	for _, k := range keys {
		if label := keybind.LookupString(xu, 0, xproto.Keycode(k.Raw())); label != "" {
			out[k] = label
		}
	}
	return out, nil
}
