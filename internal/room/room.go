package room

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkfold/inkfold/internal/protocol"
)

// Close code sent to connections when their room is torn down.
const CloseGoingAway = 1001

// ErrClosed is returned by Join when the room was destroyed between
// lookup and join. Callers should re-resolve the room and retry.
var ErrClosed = errors.New("room closed")

// Snapshots is the slice of durable storage a room needs.
type Snapshots interface {
	GetSnapshot(docID string) ([]byte, bool, error)
	PutSnapshot(docID string, data []byte) error
}

// Replica is the mergeable document the room owns exclusively.
type Replica interface {
	Apply(update []byte, origin any)
	SerializeFull() []byte
	OnMutate(fn func(origin any))
}

// Conn is one client's bidirectional channel. Send must not block;
// Close delivers a close notice and tears the connection down.
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string)
}

// ClientInfo lives only as long as its connection. Identity fields are
// filled in lazily from the first awareness or cursor message; a silent
// viewer never acquires one.
type ClientInfo struct {
	ClientID string
	UserID   string
	UserName string
}

// A collaborative editing session for one document id. All replica and
// connection-table mutation is serialized under mu; the debounce timer
// has its own lock so the mutation hook can reschedule while mu is held.
type Room struct {
	docID    string
	store    Snapshots
	debounce time.Duration

	// Closed once the initial snapshot load finishes. Every join waits
	// on it; requests racing the load all wait for the same read.
	loaded chan struct{}

	// Closed once teardown, including the final persist, completes.
	done chan struct{}

	mu         sync.Mutex
	replica    Replica
	conns      map[Conn]*ClientInfo
	destroyed  bool
	emptySince time.Time

	timerMu      sync.Mutex
	persistTimer *time.Timer

	// Held across serialize+write for every store put, so a write that
	// captured older state can never land after a later one.
	persistMu sync.Mutex
}

// New creates the room and kicks off the asynchronous snapshot load.
// The room is joinable immediately; joins block until the load is done.
func New(docID string, store Snapshots, replica Replica, debounce time.Duration) *Room {
	r := &Room{
		docID:      docID,
		store:      store,
		replica:    replica,
		debounce:   debounce,
		loaded:     make(chan struct{}),
		done:       make(chan struct{}),
		conns:      make(map[Conn]*ClientInfo),
		emptySince: time.Now(),
	}
	go r.load()
	return r
}

func (r *Room) DocID() string {
	return r.docID
}

func (r *Room) load() {
	data, ok, err := r.store.GetSnapshot(r.docID)
	if err != nil {
		// A failed read is not fatal: start empty and let the next
		// persist overwrite whatever is stored.
		log.Printf("Room %s: snapshot load failed, starting empty: %v", r.docID, err)
	} else if ok && len(data) > 0 {
		r.replica.Apply(data, nil)
	}

	// Registered after the snapshot apply so loading does not schedule
	// a write of what was just read.
	r.replica.OnMutate(func(origin any) {
		r.schedulePersist()
	})

	close(r.loaded)
}

// Join waits for the initial load, registers the connection under a
// fresh client id, and sends it a full-state sync. The sync is sent
// while holding the room lock so no broadcast can slip in between
// snapshot and registration.
func (r *Room) Join(conn Conn) (string, error) {
	<-r.loaded

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return "", ErrClosed
	}

	info := &ClientInfo{ClientID: uuid.NewString()}
	r.conns[conn] = info

	env := &protocol.Envelope{
		Type:  protocol.TypeSync,
		State: r.replica.SerializeFull(),
	}
	data, err := env.Encode()
	if err == nil {
		err = conn.Send(data)
	}
	if err != nil {
		delete(r.conns, conn)
		r.mu.Unlock()
		return "", err
	}

	total := len(r.conns)
	r.mu.Unlock()

	log.Printf("Client %s joined room %s (total: %d)", info.ClientID, r.docID, total)
	return info.ClientID, nil
}

// HandleMessage parses and dispatches one inbound envelope. Malformed
// or unknown messages are logged and dropped; the connection stays up.
func (r *Room) HandleMessage(conn Conn, raw []byte) {
	env, err := protocol.Parse(raw)
	if err != nil {
		log.Printf("Room %s: dropping malformed message: %v", r.docID, err)
		return
	}

	switch env.Type {
	case protocol.TypeUpdate:
		r.handleUpdate(conn, env, raw)
	case protocol.TypeAwareness:
		r.handleAwareness(conn, env, raw)
	case protocol.TypeCursor:
		r.handleCursor(conn, env)
	default:
		log.Printf("Room %s: ignoring message with unknown type %q", r.docID, env.Type)
	}
}

func (r *Room) handleUpdate(conn Conn, env *protocol.Envelope, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		return
	}

	// The sender is the apply origin and is skipped by the broadcast,
	// so it never sees its own update echoed back.
	r.replica.Apply(env.Update, conn)
	r.broadcastLocked(raw, conn)
}

func (r *Room) handleAwareness(conn Conn, env *protocol.Envelope, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.conns[conn]
	if !ok {
		return
	}

	r.recordIdentity(info, env)

	// Payload and ephemeral id are relayed verbatim.
	r.broadcastLocked(raw, conn)
}

func (r *Room) handleCursor(conn Conn, env *protocol.Envelope) {
	data, err := protocol.NormalizedCursor(env).Encode()
	if err != nil {
		log.Printf("Room %s: dropping cursor message: %v", r.docID, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.conns[conn]
	if !ok {
		return
	}

	r.recordIdentity(info, env)
	r.broadcastLocked(data, conn)
}

// recordIdentity captures identity fields for the later leave notice.
// An identity, once set, is never cleared.
func (r *Room) recordIdentity(info *ClientInfo, env *protocol.Envelope) {
	if env.UserID == "" {
		return
	}
	info.UserID = env.UserID
	if env.UserName != "" {
		info.UserName = env.UserName
	}
}

// broadcastLocked sends to every connection except the excluded one.
// A failed send is contained: the connection's own read pump will reap
// it, and the remaining recipients still get the message.
func (r *Room) broadcastLocked(data []byte, except Conn) {
	for c, info := range r.conns {
		if c == except {
			continue
		}
		if err := c.Send(data); err != nil {
			log.Printf("Room %s: send to client %s failed: %v", r.docID, info.ClientID, err)
		}
	}
}

// HandleClose removes the connection, notifies the remaining clients if
// the departed one had an identity, and persists immediately when the
// room empties rather than waiting out the debounce window.
func (r *Room) HandleClose(conn Conn) {
	r.mu.Lock()
	info, ok := r.conns[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, conn)
	remaining := len(r.conns)

	if info.UserID != "" {
		env := &protocol.Envelope{
			Type:     protocol.TypeLeave,
			UserID:   info.UserID,
			UserName: info.UserName,
			ClientID: info.ClientID,
		}
		if data, err := env.Encode(); err == nil {
			r.broadcastLocked(data, nil)
		}
	}

	if remaining == 0 {
		r.emptySince = time.Now()
	}
	r.mu.Unlock()

	log.Printf("Client %s left room %s (remaining: %d)", info.ClientID, r.docID, remaining)

	if remaining == 0 {
		r.cancelPersistTimer()
		go r.persistNow()
	}
}

func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// schedulePersist restarts the debounce timer. Only the last schedule
// call within the quiet interval results in a write.
func (r *Room) schedulePersist() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.persistTimer != nil {
		r.persistTimer.Stop()
	}
	r.persistTimer = time.AfterFunc(r.debounce, r.persistNow)
}

func (r *Room) cancelPersistTimer() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.persistTimer != nil {
		r.persistTimer.Stop()
		r.persistTimer = nil
	}
}

// persistNow serializes under the room lock and writes off-lock, so a
// slow store never stalls message handling. persistMu spans the
// serialize and the write: a debounced write still in flight when the
// room is torn down finishes first, and the final persist supersedes it.
func (r *Room) persistNow() {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	data := r.replica.SerializeFull()
	r.mu.Unlock()

	if err := r.store.PutSnapshot(r.docID, data); err != nil {
		// Last good snapshot stays in place; the next mutation
		// reschedules through the same debounce path.
		log.Printf("Room %s: snapshot write failed: %v", r.docID, err)
	}
}

// TryRetire destroys the room if it has been empty for at least
// idleFor. The check and the destroyed mark happen atomically under the
// room lock, so a join holding the lock keeps the room alive and one
// arriving just after sees ErrClosed and retries through the registry.
func (r *Room) TryRetire(idleFor time.Duration) bool {
	select {
	case <-r.loaded:
	default:
		return false
	}

	r.mu.Lock()
	if r.destroyed || len(r.conns) > 0 || time.Since(r.emptySince) < idleFor {
		r.mu.Unlock()
		return false
	}
	data := r.teardownLocked()
	r.mu.Unlock()

	r.finishTeardown(nil, data)
	return true
}

// Destroy tears the room down unconditionally: final synchronous
// persist, forced close of every connection, state released.
func (r *Room) Destroy() {
	<-r.loaded

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	data := r.teardownLocked()
	r.mu.Unlock()

	r.finishTeardown(conns, data)
}

// teardownLocked marks the room destroyed and strips its state.
// Callers must hold mu.
func (r *Room) teardownLocked() []byte {
	r.destroyed = true
	data := r.replica.SerializeFull()
	r.replica = nil
	r.conns = make(map[Conn]*ClientInfo)
	return data
}

func (r *Room) finishTeardown(conns []Conn, data []byte) {
	r.cancelPersistTimer()

	// destroyed is already set, so any persistNow waiting here returns
	// without writing once it gets the lock; one already serializing or
	// writing completes first and this write supersedes it.
	r.persistMu.Lock()
	err := r.store.PutSnapshot(r.docID, data)
	r.persistMu.Unlock()
	if err != nil {
		log.Printf("Room %s: final snapshot write failed: %v", r.docID, err)
	}

	for _, c := range conns {
		c.Close(CloseGoingAway, "room closed")
	}

	close(r.done)
	log.Printf("Room %s closed", r.docID)
}

// Done is closed once teardown, including the final persist, has
// completed. It never closes for a room that is not destroyed.
func (r *Room) Done() <-chan struct{} {
	return r.done
}
