package registry

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/inkfold/inkfold/internal/room"
)

type Config struct {
	// Quiet interval for each room's debounced persistence.
	Debounce time.Duration

	// How long a room may sit with zero connections before the janitor
	// retires it.
	IdleTTL time.Duration

	// How often the janitor sweeps.
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:      1 * time.Second,
		IdleTTL:       5 * time.Minute,
		SweepInterval: 1 * time.Minute,
	}
}

// Registry owns the id→room map. Creation is single-flight: the map
// entry made under the registry lock is the one in-flight instance, and
// the room's own load gate holds concurrent joiners until its snapshot
// read finishes.
type Registry struct {
	store      room.Snapshots
	newReplica func() room.Replica
	config     Config

	mu    sync.Mutex
	rooms map[string]*room.Room

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(store room.Snapshots, newReplica func() room.Replica, config Config) *Registry {
	return &Registry{
		store:      store,
		newReplica: newReplica,
		config:     config,
		rooms:      make(map[string]*room.Room),
		stop:       make(chan struct{}),
	}
}

// GetOrCreate returns the live room for a document id, creating it on
// first reference.
func (g *Registry) GetOrCreate(docID string) *room.Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[docID]; ok {
		return r
	}
	r := room.New(docID, g.store, g.newReplica(), g.config.Debounce)
	g.rooms[docID] = r
	return r
}

// Join resolves the room for a document id and joins it, retrying when
// the join loses a race against eviction. The retry favors the joiner:
// a room destroyed underneath it is dropped from the map and a fresh
// one is created. The retry waits for the dying room's teardown first,
// so the successor's load always sees the final persisted snapshot.
func (g *Registry) Join(docID string, conn room.Conn) (*room.Room, string, error) {
	for {
		r := g.GetOrCreate(docID)
		clientID, err := r.Join(conn)
		if errors.Is(err, room.ErrClosed) {
			<-r.Done()
			g.remove(docID, r)
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return r, clientID, nil
	}
}

// remove drops the mapping only if it still points at the given room,
// so a replacement created by a concurrent joiner is never clobbered.
func (g *Registry) remove(docID string, r *room.Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[docID] == r {
		delete(g.rooms, docID)
	}
}

// Evict destroys the live room for a document id, if any. The mapping
// stays in place until teardown completes: a concurrent join lands on
// the dying room, observes it closed, and waits out the final persist
// before a successor is created.
func (g *Registry) Evict(docID string) {
	g.mu.Lock()
	r := g.rooms[docID]
	g.mu.Unlock()

	if r == nil {
		return
	}
	r.Destroy()
	<-r.Done()
	g.remove(docID, r)
}

// Start launches the idle-room janitor.
func (g *Registry) Start() {
	g.wg.Add(1)
	go g.run()
	log.Printf("🧹 Room janitor started (idle TTL: %v, sweep: %v)",
		g.config.IdleTTL, g.config.SweepInterval)
}

func (g *Registry) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

func (g *Registry) sweep() {
	g.mu.Lock()
	candidates := make(map[string]*room.Room, len(g.rooms))
	for id, r := range g.rooms {
		candidates[id] = r
	}
	g.mu.Unlock()

	retired := 0
	for id, r := range candidates {
		if r.TryRetire(g.config.IdleTTL) {
			g.remove(id, r)
			retired++
		}
	}

	if retired > 0 {
		log.Printf("🧹 Retired %d idle rooms", retired)
	}
}

// Shutdown stops the janitor and destroys every room, which performs
// each room's final synchronous persist.
func (g *Registry) Shutdown() {
	close(g.stop)
	g.wg.Wait()

	g.mu.Lock()
	rooms := make([]*room.Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*room.Room)
	g.mu.Unlock()

	for _, r := range rooms {
		r.Destroy()
		<-r.Done()
	}

	log.Printf("Registry shut down (%d rooms persisted)", len(rooms))
}

// Stats accessors for the admin API.

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) ClientCount() int {
	g.mu.Lock()
	rooms := make([]*room.Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	total := 0
	for _, r := range rooms {
		total += r.ClientCount()
	}
	return total
}

// ActiveRooms returns the live occupancy per document id.
func (g *Registry) ActiveRooms() map[string]int {
	g.mu.Lock()
	rooms := make(map[string]*room.Room, len(g.rooms))
	for id, r := range g.rooms {
		rooms[id] = r
	}
	g.mu.Unlock()

	active := make(map[string]int, len(rooms))
	for id, r := range rooms {
		active[id] = r.ClientCount()
	}
	return active
}
