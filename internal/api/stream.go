package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackmielke/agentdash/internal/store"
)

const (
	// eventBuffer is the per-subscriber channel size. Slow readers miss
	// events rather than blocking publishers.
	eventBuffer = 64

	// pingInterval keeps idle event streams alive through proxies.
	pingInterval = 30 * time.Second

	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// The stream is read-only operational data; dashboards are served
	// from a different origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams bus events as JSON text frames. ?tenant=ID
// limits the stream to one tenant plus platform-wide events. An API
// key, when configured, may be passed as ?key= since browsers cannot
// set headers on websockets.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	if s.opts.APIKey != "" {
		token, bearer := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.validKey(r.URL.Query().Get("key")) && !(bearer && s.validKey(token)) {
			s.errorResponse(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
	}
	tenant := r.URL.Query().Get("tenant")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.deps.Bus.SubscribeTenant(eventBuffer, tenant)
	defer s.deps.Bus.Unsubscribe(ch)

	// The reader goroutine notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	s.logger.Debug("event stream opened", "tenant", tenant)
	for {
		select {
		case <-closed:
			s.logger.Debug("event stream closed", "tenant", tenant)
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event stream write failed", "error", err)
				}
				return
			}
		}
	}
}

// handleBlob serves a stored blob such as a claim link QR code.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	data, contentType, err := s.deps.Stores.GetBlob(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "blob not found")
		return
	}
	if err != nil {
		s.logger.Error("blob read failed", "key", key, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "blob read failed")
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("failed to write blob", "key", key, "error", err)
	}
}
