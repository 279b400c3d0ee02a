package thor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CZERTAINLY/Triage/internal/progress"
)

// Clock abstracts time for the supervision loop so tests drive interval
// ticks without real delays.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Supervisor polls a running scanner process on a fixed interval,
// tails its text log and emits one progress summary per tick.
type Supervisor struct {
	Interval      time.Duration
	Clock         Clock
	Reporter      progress.Reporter
	SignatureLine string
	CustomOnly    bool
	CustomRules   int
}

// Run supervises proc until it exits, deriving progress from txtLog.
// It returns the total rule-hit count seen in the log and the process's
// terminal state. Cancelling ctx kills the child (via the process's
// command context) and Run still drains its terminal state.
func (s *Supervisor) Run(ctx context.Context, proc *Process, txtLog string) (int, Result) {
	clock := s.Clock
	if clock == nil {
		clock = realClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	reporter := s.Reporter
	if reporter == nil {
		reporter = progress.Nop{}
	}

	var cursor Cursor
	hits := 0
	for {
		hits += cursor.ConsumeHits(txtLog)
		reporter.Report(ctx, progress.Event{
			Message: s.compose(clock.Now().Sub(proc.Started()), LastLine(txtLog), hits),
		})

		select {
		case <-proc.Done():
			hits += cursor.ConsumeHits(txtLog)
			return hits, proc.Result()
		case <-ctx.Done():
			// command context kills the child; drain its exit
			hits += cursor.ConsumeHits(txtLog)
			return hits, proc.Result()
		case <-clock.After(interval):
		}
	}
}

// compose builds the multi-line progress message: signature status,
// custom-rule counters (custom-only mode), a status header with elapsed
// time, and a summary of the latest log line.
func (s *Supervisor) compose(elapsed time.Duration, lastLine string, hits int) string {
	var lines []string
	if s.SignatureLine != "" {
		lines = append(lines, "Signatures: "+s.SignatureLine)
	}
	if s.CustomOnly {
		lines = append(lines, fmt.Sprintf(
			"Custom YARA + Filescan: enabled (rules loaded: %d, hits: %d)", s.CustomRules, hits))
	}
	lines = append(lines, fmt.Sprintf("Status: THOR Lite scanning (elapsed %ds)", int(elapsed.Seconds())))
	if summary := Summarize(lastLine); summary != "" {
		lines = append(lines, "Last log: "+summary)
	}
	return strings.Join(lines, "\n")
}
