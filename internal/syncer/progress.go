package syncer

import (
	"sync"
	"time"
)

// Phase is the orchestrator state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePulling
	PhaseReconciling
	PhasePushing
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePulling:
		return "pulling"
	case PhaseReconciling:
		return "reconciling"
	case PhasePushing:
		return "pushing"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Progress is the read-only view consumers render. Nothing should be shown while
// IsSyncing is false.
type Progress struct {
	IsSyncing        bool
	Phase            Phase
	Message          string
	Failed           bool // persistent failure, needs a manual run
	LastReconciledAt time.Time
}

// Signal holds the latest Progress. Only the orchestrator writes it.
type Signal struct {
	mu   sync.Mutex
	cur  Progress
	subs map[chan Progress]struct{}
}

func newSignal() *Signal {
	return &Signal{subs: make(map[chan Progress]struct{})}
}

// Get returns the current value.
func (s *Signal) Get() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Subscribe returns a channel that always holds the most recent value. Slow readers
// skip intermediate states. Call cancel to release the subscription.
func (s *Signal) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.cur
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Signal) update(fn func(p *Progress)) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cur)
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s.cur
	}
	return s.cur
}

func (s *Signal) set(phase Phase, msg string) Progress {
	return s.update(func(p *Progress) {
		p.Phase = phase
		p.Message = msg
		p.IsSyncing = phase == PhasePulling || phase == PhaseReconciling || phase == PhasePushing
	})
}
