package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/inkfold/inkfold/internal/api"
	"github.com/inkfold/inkfold/internal/doc"
	"github.com/inkfold/inkfold/internal/registry"
	"github.com/inkfold/inkfold/internal/room"
	"github.com/inkfold/inkfold/internal/store"
	"github.com/inkfold/inkfold/internal/ws"
)

func main() {
	dbPath := os.Getenv("INKFOLD_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/inkfold.db"
	}

	st, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	config := registry.DefaultConfig()
	if ms, err := strconv.Atoi(os.Getenv("INKFOLD_DEBOUNCE_MS")); err == nil && ms > 0 {
		config.Debounce = time.Duration(ms) * time.Millisecond
	}
	if ttl, err := time.ParseDuration(os.Getenv("INKFOLD_ROOM_IDLE_TTL")); err == nil && ttl > 0 {
		config.IdleTTL = ttl
	}

	reg := registry.New(st, func() room.Replica { return doc.New() }, config)
	reg.Start()

	apiHandler := api.New(reg, st)

	// WebSocket endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(reg, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	http.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)

	// Apply CORS middleware
	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		reg.Shutdown()
		st.Close()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("✒️ Inkfold server starting on :%s", port)
	log.Printf("📁 Store: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?room={documentId}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET/POST /api/rooms")
	log.Println("  - Room:      GET/DELETE /api/rooms/{id}")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
