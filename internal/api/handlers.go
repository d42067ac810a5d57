package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inkfold/inkfold/internal/registry"
	"github.com/inkfold/inkfold/internal/store"
)

type API struct {
	reg   *registry.Registry
	store *store.Store
}

func New(reg *registry.Registry, st *store.Store) *API {
	return &API{
		reg:   reg,
		store: st,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.reg.Count(),
		"active_clients": a.reg.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		dbStats, err := a.store.Stats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["snapshot_count"] = dbStats["snapshot_count"]
			stats["snapshot_bytes"] = dbStats["snapshot_bytes"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

type CreateRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RoomsRouter dispatches /api/rooms and /api/rooms/{id}.
func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.listRooms(w, r)
		case http.MethodPost:
			a.createRoom(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getRoom(w, r, path)
	case http.MethodDelete:
		a.deleteRoom(w, r, path)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *API) listRooms(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.store.ListRooms(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.reg.ActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			ID:          room.ID,
			Name:        room.Name,
			CreatedAt:   room.CreatedAt,
			UpdatedAt:   room.UpdatedAt,
			ActiveUsers: activeRooms[room.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if err := a.store.CreateRoom(req.ID, req.Name); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	room, err := a.store.GetRoom(req.ID)
	if err != nil || room == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load created room")
		return
	}

	jsonResponse(w, http.StatusCreated, RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	})
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request, id string) {
	room, err := a.store.GetRoom(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load room")
		return
	}
	if room == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:          room.ID,
		Name:        room.Name,
		CreatedAt:   room.CreatedAt,
		UpdatedAt:   room.UpdatedAt,
		ActiveUsers: a.reg.ActiveRooms()[room.ID],
	})
}

// deleteRoom evicts the live session first so its final persist cannot
// recreate the row afterward, then removes stored state.
func (a *API) deleteRoom(w http.ResponseWriter, r *http.Request, id string) {
	a.reg.Evict(id)

	if err := a.store.DeleteRoom(id); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}
