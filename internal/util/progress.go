package util

import (
	"github.com/pterm/pterm"
)

// Progress renders a unit counter as a pterm progress bar.
// A nil *Progress is valid and does nothing.
type Progress struct {
	bar  *pterm.ProgressbarPrinter
	done int
}

// NewProgress starts a progress bar for total units. It returns nil when
// there is nothing to show or the bar cannot be started.
func NewProgress(title string, total int) *Progress {
	if total <= 0 {
		return nil
	}
	bar, err := pterm.DefaultProgressbar.
		WithTitle(title).
		WithTotal(total).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		LogWarning("progress bar unavailable: %v", err)
		return nil
	}
	return &Progress{bar: bar}
}

// Update moves the bar to done units.
func (p *Progress) Update(done, total int) {
	if p == nil || done <= p.done {
		return
	}
	p.bar.Add(done - p.done)
	p.done = done
}

// Stop removes the bar.
func (p *Progress) Stop() {
	if p == nil {
		return
	}
	p.bar.Stop()
}
