package main

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/acme-corp/pg-mongo-migrator/internal/migrate"
)

// progressObserver advances a terminal progress bar once per finished batch.
type progressObserver struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newProgressObserver(out io.Writer) *progressObserver {
	return &progressObserver{out: out}
}

// Start sizes the bar. Outcomes seen before Start are dropped.
func (p *progressObserver) Start(batches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions(batches,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription("migrating"),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionFullWidth(),
	)
}

func (p *progressObserver) OnOutcome(o migrate.Outcome) {
	if !o.Done() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Finish completes the bar's line so later log output starts on a fresh one.
func (p *progressObserver) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	_ = p.bar.Exit()
	_, _ = io.WriteString(p.out, "\n")
}
