package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"referral-tree/logger"
	"referral-tree/perf"
)

// DebouncedPersister coalesces bursts of saves, such as a pan drag, into one
// write of the latest data.
type DebouncedPersister struct {
	next Persister
	deb  *perf.Debouncer
	log  *zap.Logger

	mu      sync.Mutex
	pending []byte
}

// NewDebouncedPersister wraps next. A zero window uses perf.DefaultDebounceDuration.
func NewDebouncedPersister(next Persister, window time.Duration) *DebouncedPersister {
	return &DebouncedPersister{
		next: next,
		deb:  perf.NewDebouncer(window),
		log:  logger.Named("store"),
	}
}

func (p *DebouncedPersister) LoadState() ([]byte, error) {
	return p.next.LoadState()
}

// SaveState schedules data to be written once the window is quiet.
func (p *DebouncedPersister) SaveState(data []byte) error {
	p.mu.Lock()
	p.pending = data
	p.mu.Unlock()
	p.deb.Trigger(func() {
		if err := p.write(); err != nil {
			p.log.Error("Failed to persist dashboard state", zap.Error(err))
		}
	})
	return nil
}

// Flush writes any pending data now.
func (p *DebouncedPersister) Flush() error {
	p.deb.Cancel()
	return p.write()
}

func (p *DebouncedPersister) write() error {
	p.mu.Lock()
	data := p.pending
	p.pending = nil
	p.mu.Unlock()
	if data == nil {
		return nil
	}
	return p.next.SaveState(data)
}
