package doc

import (
	"sync"
)

// A convergent replicated document: a grow-only set of opaque update
// payloads kept in insertion order. Updates travel as length-prefixed
// frames; applying an update unions each frame into the set, so applying
// the same bytes twice is a no-op and a full serialization is itself a
// valid update. That makes load-from-snapshot and incremental sync the
// same operation.
type Doc struct {
	mu    sync.RWMutex
	order [][]byte
	seen  map[string]struct{}
	hooks []func(origin any)
}

// Creates an empty document
func New() *Doc {
	return &Doc{
		order: make([][]byte, 0),
		seen:  make(map[string]struct{}),
	}
}

// Apply merges a frame-encoded update into the document. The origin tag
// is passed through to mutation hooks so callers can tell where a change
// came from. Hooks fire once per call, and only if the state actually
// changed.
func (d *Doc) Apply(update []byte, origin any) {
	frames := SplitFrames(update)

	d.mu.Lock()
	changed := false
	for _, frame := range frames {
		key := string(frame)
		if _, ok := d.seen[key]; ok {
			continue
		}
		d.seen[key] = struct{}{}
		d.order = append(d.order, frame)
		changed = true
	}
	hooks := d.hooks
	d.mu.Unlock()

	if changed {
		for _, hook := range hooks {
			hook(origin)
		}
	}
}

// SerializeFull returns a frame-encoded snapshot of the entire document
// state, in insertion order.
func (d *Doc) SerializeFull() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return MergeFrames(d.order)
}

// OnMutate registers a hook invoked after every state change.
func (d *Doc) OnMutate(fn func(origin any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, fn)
}

// Len returns the number of merged payloads.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}
