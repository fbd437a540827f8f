package transport

import (
	"fmt"
	"slices"
	"sync"

	"hal-rpc/message"
)

// Result is what a pending request receives: the decoded response, or the
// error that ended the connection before one arrived.
type Result struct {
	ID       uint64
	Response message.Response
	Err      error
}

// NewSink returns a one-shot response sink. It is buffered so that the reader
// never waits for the caller to collect its result.
func NewSink() chan Result {
	return make(chan Result, 1)
}

// PendingTable maps the id of every request in flight to the sink waiting for
// its response. An entry is removed exactly once, by Resolve, Forget or Drain.
type PendingTable struct {
	mu      sync.Mutex
	entries map[uint64]chan<- Result
}

func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint64]chan<- Result)}
}

// Register adds a pending entry. An id can only be registered again after it
// has been resolved.
func (t *PendingTable) Register(id uint64, sink chan<- Result) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return fmt.Errorf("%w: #%d", ErrDuplicateID, id)
	}
	t.entries[id] = sink
	return nil
}

// Resolve removes and returns the sink registered for id.
// A false result is the NoListener condition.
func (t *PendingTable) Resolve(id uint64) (chan<- Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sink, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return sink, ok
}

// Forget drops an entry whose caller stopped waiting. A late response for it
// is then reported as NoListener.
func (t *PendingTable) Forget(id uint64) bool {
	_, ok := t.Resolve(id)
	return ok
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// IDs returns the pending ids in ascending order.
func (t *PendingTable) IDs() []uint64 {
	t.mu.Lock()
	ids := make([]uint64, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Drain hands err to every pending sink, empties the table and returns how
// many entries it failed.
func (t *PendingTable) Drain(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint64]chan<- Result)
	t.mu.Unlock()

	for id, sink := range entries {
		select {
		case sink <- Result{ID: id, Err: err}:
		default:
		}
	}
	return len(entries)
}
