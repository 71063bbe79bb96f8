package render

import "sync"

// pendingUpdate is a single-slot mailbox between the frame-available
// notifier and the draw tick. Any number of signals before a drain collapse
// into one update.
type pendingUpdate struct {
	mu      sync.Mutex
	set     bool
	signals int
}

func (p *pendingUpdate) signal() {
	p.mu.Lock()
	p.set = true
	p.signals++
	p.mu.Unlock()
}

// take clears the slot and reports how many signals it had collected.
func (p *pendingUpdate) take() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return 0
	}
	n := p.signals
	p.set, p.signals = false, 0
	return n
}

func (p *pendingUpdate) reset() {
	p.mu.Lock()
	p.set, p.signals = false, 0
	p.mu.Unlock()
}
