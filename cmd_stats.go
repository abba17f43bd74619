package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"chordhook/internal/journal"
)

// statsReport is the JSON form of the stats command.
type statsReport struct {
	Since    *time.Time    `json:"since,omitempty"`
	Sessions int64         `json:"sessions"`
	Chords   []statsRecord `json:"chords"`
}

type statsRecord struct {
	Chord string    `json:"chord"`
	Count int64     `json:"count"`
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

// runStats is the stats command.
func runStats(ctx context.Context, g globalOptions, args []string, stdout, stderr io.Writer) int {
	fs := newCommandFlags("stats", stderr)
	since := fs.Duration("since", 0, "only count activations newer than this, e.g. 24h (0 counts everything)")
	path := fs.String("journal", "", "journal database (default from config)")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if code, done := parseCommandFlags(fs, args); done {
		return code
	}
	if *since < 0 {
		fmt.Fprintln(stderr, "chordhook stats: -since must not be negative")
		return exitUsage
	}

	cfg, _ := loadCommandConfig(g, stderr)
	dbPath := *path
	if dbPath == "" {
		dbPath = cfg.JournalPath
	}
	if dbPath == "" {
		fmt.Fprintln(stderr, "chordhook stats: journal disabled (journal_path is empty)")
		return exitFailure
	}

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}
	report, err := loadStats(ctx, dbPath, from)
	if err != nil {
		fmt.Fprintf(stderr, "chordhook stats: %v\n", err)
		return exitFailure
	}
	if err := writeStats(stdout, report, *asJSON); err != nil {
		fmt.Fprintf(stderr, "chordhook stats: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// loadStats reads the activation counts at or after from. A missing journal
// is an empty report; it is not created.
func loadStats(ctx context.Context, path string, from time.Time) (statsReport, error) {
	report := statsReport{Chords: []statsRecord{}}
	if !from.IsZero() {
		report.Since = &from
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return report, nil
	}

	j, err := openJournalFn(ctx, path)
	if err != nil {
		return report, err
	}
	defer j.Close()

	counts, err := j.Counts(ctx, from)
	if err != nil {
		return report, err
	}
	if report.Sessions, err = j.Sessions(ctx, from); err != nil {
		return report, err
	}
	report.Chords = toStatsRecords(counts)
	return report, nil
}

func toStatsRecords(counts []journal.Count) []statsRecord {
	out := make([]statsRecord, 0, len(counts))
	for _, c := range counts {
		out = append(out, statsRecord{Chord: c.Chord, Count: c.N, First: c.First, Last: c.Last})
	}
	return out
}

func writeStats(w io.Writer, report statsReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if len(report.Chords) == 0 {
		_, err := fmt.Fprintln(w, "no chord activations recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHORD\tCOUNT\tFIRST\tLAST")
	var total int64
	for _, c := range report.Chords {
		total += c.Count
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Chord, c.Count,
			c.First.Local().Format(time.DateTime), c.Last.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d activations in %d sessions\n", total, report.Sessions)
	return err
}
