// Package api serves the read-only operational HTTP surface: status,
// prometheus metrics and a WebSocket event feed. Mutations go through the
// node wire protocol only.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eigerco/cloudberry/internal/hub"
	"github.com/eigerco/cloudberry/internal/metrics"
	"github.com/eigerco/cloudberry/pkg/log"
)

const (
	writeTimeout    = 10 * time.Second
	eventBufferSize = 256
	catchupPageSize = 512
)

// Server is the HTTP API server.
type Server struct {
	hub      *hub.Hub
	metrics  *metrics.Metrics
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer builds the server and its routes.
func NewServer(addr string, h *hub.Hub, m *metrics.Metrics) *Server {
	s := &Server{
		hub:     h,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocking; run it in its own goroutine.
func (s *Server) Start() error {
	log.API.Info().Str("addr", s.server.Addr).Msg("http api listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.hub.Status()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.API.Debug().Err(err).Msg("write status response")
	}
}

// handleEvents streams outbox events as JSON over a WebSocket. With ?from=N
// the client first catches up from the persisted log; the live subscription
// is taken before catch-up so no event falls into the gap, and duplicates
// across the seam are filtered by sequence number.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fromSeq := uint64(0)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from parameter", http.StatusBadRequest)
			return
		}
		fromSeq = parsed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.API.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	live, cancel := s.hub.Broadcaster().Subscribe(eventBufferSize)
	defer cancel()

	next := fromSeq
	for {
		page, err := s.hub.Events(next, catchupPageSize)
		if err != nil {
			log.API.Warn().Err(err).Msg("event catch-up read failed")
			return
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			if err := s.writeEvent(conn, e); err != nil {
				return
			}
			next = e.Seq + 1
		}
	}

	for {
		select {
		case e, ok := <-live:
			if !ok {
				return
			}
			if e.Seq < next {
				continue
			}
			if err := s.writeEvent(conn, e); err != nil {
				return
			}
			next = e.Seq + 1
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}
