package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Bar represents a simple progress bar. A nil *Bar is valid and draws
// nothing.
type Bar struct {
	out       io.Writer
	total     int
	current   int
	matched   int
	mu        sync.Mutex
	startTime time.Time
	lastPrint time.Time
	done      bool
}

// New creates a new progress bar writing to out
func New(total int, out io.Writer) *Bar {
	return &Bar{
		out:       out,
		total:     total,
		startTime: time.Now(),
		lastPrint: time.Now(),
	}
}

// ForTerminal returns a Bar on f when f is a terminal, nil otherwise.
func ForTerminal(total int, f *os.File) *Bar {
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return nil
	}
	return New(total, f)
}

// Increment increases the progress counter
func (b *Bar) Increment(matched bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	if matched {
		b.matched++
	}

	// Update display every 500ms or when complete
	now := time.Now()
	if now.Sub(b.lastPrint) > 500*time.Millisecond || b.current >= b.total {
		b.render()
		b.lastPrint = now
	}
}

// Finish marks the progress as complete
func (b *Bar) Finish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.done {
		b.render()
		fmt.Fprintln(b.out)
		b.done = true
	}
}

// render displays the progress bar
func (b *Bar) render() {
	if b.done || b.total == 0 {
		return
	}

	percentage := float64(b.current) / float64(b.total) * 100
	elapsed := time.Since(b.startTime)

	var eta time.Duration
	if b.current > 0 {
		avgTime := elapsed / time.Duration(b.current)
		eta = avgTime * time.Duration(b.total-b.current)
	}

	const barWidth = 40
	filled := barWidth * b.current / b.total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(b.out, "\r[%s] %d/%d (%.1f%%) - matched: %d - Elapsed: %s - ETA: %s   ",
		bar,
		b.current,
		b.total,
		percentage,
		b.matched,
		formatDuration(elapsed),
		formatDuration(eta),
	)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
