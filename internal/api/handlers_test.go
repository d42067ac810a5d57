package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/inkfold/inkfold/internal/doc"
	"github.com/inkfold/inkfold/internal/registry"
	"github.com/inkfold/inkfold/internal/room"
	"github.com/inkfold/inkfold/internal/store"
)

func setupTestAPI(t *testing.T) (*API, *registry.Registry, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "inkfold-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	st, err := store.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	reg := registry.New(st, func() room.Replica { return doc.New() }, registry.DefaultConfig())

	api := New(reg, st)

	cleanup := func() {
		reg.Shutdown()
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return api, reg, cleanup
}

func TestHealthHandler(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	api.HealthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, reg, cleanup := setupTestAPI(t)
	defer cleanup()

	reg.GetOrCreate("doc-live")

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()

	api.StatsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["active_rooms"] != float64(1) {
		t.Errorf("Expected 1 active room, got %v", response["active_rooms"])
	}
	if _, ok := response["active_clients"]; !ok {
		t.Error("Response should contain 'active_clients'")
	}
}

func TestCreateRoom(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	tests := []struct {
		name           string
		body           map[string]string
		expectedStatus int
	}{
		{
			name:           "Create room with ID and name",
			body:           map[string]string{"id": "test-room-1", "name": "Test Room 1"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Create room with only ID",
			body:           map[string]string{"id": "test-room-2"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Missing ID should fail",
			body:           map[string]string{"name": "No ID Room"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(tt.body)
			req := httptest.NewRequest("POST", "/api/rooms", bytes.NewReader(payload))
			w := httptest.NewRecorder()

			api.RoomsRouter(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestListRooms(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]string{"id": "doc-1", "name": "First"})
	req := httptest.NewRequest("POST", "/api/rooms", bytes.NewReader(body))
	api.RoomsRouter(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/api/rooms", nil)
	w := httptest.NewRecorder()
	api.RoomsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Rooms []RoomResponse `json:"rooms"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Rooms) != 1 {
		t.Fatalf("Expected 1 room, got %d", len(response.Rooms))
	}
	if response.Rooms[0].ID != "doc-1" || response.Rooms[0].Name != "First" {
		t.Errorf("Room fields mismatch: %+v", response.Rooms[0])
	}
}

func TestGetRoomNotFound(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/rooms/missing", nil)
	w := httptest.NewRecorder()

	api.RoomsRouter(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDeleteRoom(t *testing.T) {
	api, reg, cleanup := setupTestAPI(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]string{"id": "doc-1"})
	req := httptest.NewRequest("POST", "/api/rooms", bytes.NewReader(body))
	api.RoomsRouter(httptest.NewRecorder(), req)

	reg.GetOrCreate("doc-1")

	req = httptest.NewRequest("DELETE", "/api/rooms/doc-1", nil)
	w := httptest.NewRecorder()
	api.RoomsRouter(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if reg.Count() != 0 {
		t.Error("Delete should evict the live room")
	}

	req = httptest.NewRequest("GET", "/api/rooms/doc-1", nil)
	w = httptest.NewRecorder()
	api.RoomsRouter(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Deleted room should be gone, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	req := httptest.NewRequest("PUT", "/api/rooms", nil)
	w := httptest.NewRecorder()

	api.RoomsRouter(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
