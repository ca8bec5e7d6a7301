package phone

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/twin/internal/pipeline"
)

// State is the call-control state of a call. It names what the caller last
// heard.
type State string

const (
	StateRinging        State = "RINGING"
	StateGreetingPlayed State = "GREETING_PLAYED"
	StateRecording      State = "RECORDING"
	StateProcessing     State = "PROCESSING"
	StateResponsePlayed State = "RESPONSE_PLAYED"
	StateTerminated     State = "TERMINATED"
)

var transitions = map[State][]State{
	StateRinging:        {StateGreetingPlayed, StateRecording, StateProcessing, StateTerminated},
	StateGreetingPlayed: {StateRecording, StateProcessing, StateTerminated},
	StateRecording:      {StateRecording, StateProcessing, StateTerminated},
	StateProcessing:     {StateProcessing, StateResponsePlayed, StateRecording, StateTerminated},
	StateResponsePlayed: {StateRecording, StateProcessing, StateTerminated},
}

// CanTransition reports whether a call may move from one state to another.
// TERMINATED is final.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// turn is a pipeline run that may outlive the webhook that started it.
type turn struct {
	key     string
	started time.Time
	done    chan struct{}
	result  pipeline.Result
}

func (t *turn) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Call is the adapter's view of one phone call.
type Call struct {
	SID       string
	From      string
	State     State
	Language  string
	Greeted   bool
	Silence   int
	StartedAt time.Time
	UpdatedAt time.Time

	inflight *turn
}

// CallStore tracks live calls in memory. Sessions, not calls, are durable:
// a restarted server picks a call up again from its next webhook.
type CallStore struct {
	mu    sync.Mutex
	calls map[string]*Call
	now   func() time.Time
}

func NewCallStore() *CallStore {
	return &CallStore{calls: make(map[string]*Call), now: time.Now}
}

// Get returns a copy of the call.
func (s *CallStore) Get(sid string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[sid]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// update runs fn on the call under the store lock, creating the call in
// RINGING when absent, and reports whether it was created.
func (s *CallStore) update(sid string, fn func(c *Call)) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[sid]
	if !ok {
		now := s.now()
		c = &Call{SID: sid, State: StateRinging, StartedAt: now}
		s.calls[sid] = c
	}
	fn(c)
	c.UpdatedAt = s.now()
	return *c, !ok
}

// transition moves c to state, refusing moves the state machine forbids.
func (c *Call) transition(to State) bool {
	if c.State == to && to != StateRecording && to != StateProcessing {
		return true
	}
	if !CanTransition(c.State, to) {
		slog.Warn("call state transition refused", "call", c.SID, "from", c.State, "to", to)
		return false
	}
	slog.Debug("call state", "call", c.SID, "from", c.State, "to", to)
	c.State = to
	return true
}

// Active counts calls that have not terminated.
func (s *CallStore) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.State != StateTerminated {
			n++
		}
	}
	return n
}

// Purge forgets calls not updated since cutoff and returns how many were
// dropped.
func (s *CallStore) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sid, c := range s.calls {
		if c.UpdatedAt.Before(cutoff) {
			delete(s.calls, sid)
			n++
		}
	}
	return n
}
