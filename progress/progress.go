package progress

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/imap-unsubscribe/stats"
)

// Bar shows a progress bar while candidates are executed.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar over total candidates. A disabled bar ignores
// every call.
func New(total int, enabled bool) *Bar {
	bar := &Bar{
		total:   total,
		enabled: enabled && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Unsubscribe candidates: %d\n", total)
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Unsubscribing").
			Start()
		bar.pb = pb
	}

	return bar
}

// Update advances the bar for every executed candidate.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeSucceeded, stats.EventTypeFailed:
		b.pb.Increment()
		if evt.Detail != "" {
			b.pb.UpdateTitle(shortTitle(evt.Detail))
		}
	case stats.EventTypeError:
		// Show error messages above the progress bar
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar and prints the summary.
func (b *Bar) Stop(summary stats.Summary) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, _ = b.pb.Stop()

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Messages scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Candidates: %d\n", summary.Candidates)
	pterm.Success.Printf("Succeeded: %d\n", summary.Succeeded)
	pterm.Warning.Printf("Failed: %d\n", summary.Failed)
	if summary.Errors > 0 {
		pterm.Error.Printf("Errors: %d\n", summary.Errors)
	}
}

// shortTitle cuts s to at most 40 runes.
func shortTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= 40 {
		return s
	}
	return string(runes[:37]) + "..."
}
