package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"chordhook/internal/keyboard"
	"chordhook/internal/xprobe"
)

var labelsFn = xprobe.Labels

// keyInfo is one row of the keys command.
type keyInfo struct {
	Name    string `json:"name"`
	Keycode uint32 `json:"keycode"`
	Label   string `json:"label,omitempty"`
}

// runKeys is the keys command. Labels come from the display's current
// keyboard mapping; without a display the list is printed unlabeled.
func runKeys(_ context.Context, g globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newCommandFlags("keys", stderr)
	asJSON := fs.Bool("json", false, "print one JSON object per line")
	noLabels := fs.Bool("no-labels", false, "skip the display lookup")
	if code, done := parseCommandFlags(fs, args); done {
		return code
	}

	cfg, _ := loadCommandConfig(g, stderr)
	keys := keyboard.Keys()

	var labels map[keyboard.Key]string
	if !*noLabels {
		var err error
		labels, err = labelsFn(cfg.Display, keys)
		if err != nil {
			fmt.Fprintf(stderr, "chordhook: labels unavailable: %v\n", err)
		}
	}

	rows := make([]keyInfo, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, keyInfo{Name: k.String(), Keycode: uint32(k.Raw()), Label: labels[k]})
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				fmt.Fprintf(stderr, "chordhook: %v\n", err)
				return exitFailure
			}
		}
		return exitOK
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tKEYCODE\tLABEL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", r.Name, r.Keycode, r.Label)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "chordhook: %v\n", err)
		return exitFailure
	}
	return exitOK
}
