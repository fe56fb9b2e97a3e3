package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long a finished task remains queryable before it is
// pruned. Late subscribers inside this window still see the terminal state.
const DefaultRetention = 60 * time.Second

const subscriberBuffer = 16

// Registry is the process-wide store of task progress. Each task has a single
// writer (the gateway handling it) and any number of subscribers; updates never
// block the writer.
type Registry struct {
	mu        sync.Mutex
	tasks     map[string]*entry
	retention time.Duration
}

type entry struct {
	state  State
	subs   map[int]chan State
	nextID int
	done   bool
}

// NewRegistry creates a registry with the default retention window.
func NewRegistry() *Registry {
	return NewRegistryWithRetention(DefaultRetention)
}

// NewRegistryWithRetention creates a registry that prunes finished tasks after
// the given duration.
func NewRegistryWithRetention(retention time.Duration) *Registry {
	return &Registry{
		tasks:     make(map[string]*entry),
		retention: retention,
	}
}

// Create registers a new task in the pending state and returns its id.
func (r *Registry) Create() string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = &entry{
		state: Pending(),
		subs:  make(map[int]chan State),
	}
	return id
}

// Get returns the current state of a task.
func (r *Registry) Get(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Update records a new state for the task and delivers it to subscribers.
// Percent never regresses within one task. Updates for unknown tasks are
// dropped: progress reporting is best-effort and must not fail the inference.
func (r *Registry) Update(id string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok || e.done {
		return
	}

	// Error states arrive with a zero percent; carrying the last value
	// forward keeps percent monotonic for every subscriber.
	if s.Percent < e.state.Percent {
		s.Percent = e.state.Percent
	}
	e.state = s

	for _, ch := range e.subs {
		send(ch, s)
	}

	if s.Stage.Terminal() {
		e.done = true
		for _, ch := range e.subs {
			close(ch)
		}
		e.subs = make(map[int]chan State)
		r.schedulePrune(id)
	}
}

// Subscribe returns a channel of state updates for the task, starting with its
// current state, and a cancel function releasing the subscription. For unknown
// or finished tasks the channel is already closed; the consumer treats closure
// as "no more progress coming", not as an error.
func (r *Registry) Subscribe(id string) (<-chan State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tasks[id]
	if !ok || e.done {
		ch := make(chan State)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan State, subscriberBuffer)
	subID := e.nextID
	e.nextID++
	e.subs[subID] = ch

	send(ch, e.state)

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.tasks[id]; ok {
			if sub, ok := cur.subs[subID]; ok {
				delete(cur.subs, subID)
				close(sub)
			}
		}
	}
	return ch, cancel
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) schedulePrune(id string) {
	if r.retention <= 0 {
		delete(r.tasks, id)
		return
	}
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.tasks, id)
	})
}

// send delivers without blocking. When a slow subscriber's buffer is full the
// oldest update is discarded so the latest state always lands.
func send(ch chan State, s State) {
	for {
		select {
		case ch <- s:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
