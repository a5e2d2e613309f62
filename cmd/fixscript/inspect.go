package main

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fixscript/internal/heap"
)

// inspectServer serves a read-only websocket feed of heap statistics, the
// way --inspect attaches a debugger/monitor to a running embedder without
// touching the script's own execution.
type inspectServer struct {
	h        *heap.Heap
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newInspectServer(h *heap.Heap) *inspectServer {
	return &inspectServer{
		h:       h,
		clients: make(map[*websocket.Conn]bool),
	}
}

type heapSnapshot struct {
	Functions int64 `json:"functions"`
	Timestamp int64 `json:"timestamp_unix_ms"`
}

func (s *inspectServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	go http.Serve(ln, mux)
	go s.broadcastLoop()
	return nil
}

func (s *inspectServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *inspectServer) broadcastLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		snap := heapSnapshot{
			Functions: int64(s.h.FunctionCount()),
			Timestamp: time.Now().UnixMilli(),
		}
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		s.mu.Lock()
		for conn := range s.clients {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		s.mu.Unlock()
	}
}
