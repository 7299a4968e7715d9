// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// pushHeartbeatInterval is how often idle push connections get a
	// heartbeat message.
	pushHeartbeatInterval = 30 * time.Second

	// pushSendBuffer bounds the messages queued for one slow subscriber.
	pushSendBuffer = 64

	pushWriteTimeout = 10 * time.Second
	pushMaxReadBytes = 4 * 1024
)

// Push event names that are not chat events.
const (
	PushEventWelcome   = "welcome"
	PushEventHeartbeat = "heartbeat"
	PushEventPong      = "pong"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// =============================================================================
// Push Hub
// =============================================================================

// PushHub keeps the WebSocket subscribers of each project and fans every
// chat event of the project out to them.
//
// # Description
//
// Subscribers connect to GET /v1/projects/:projectKey/ws. Each connection
// gets a welcome message, a heartbeat every 30 seconds, and a pong for
// every {"type":"ping"} it sends. Chat events published for the project are
// queued per connection; a subscriber that falls pushSendBuffer messages
// behind is disconnected rather than stalling the turn.
//
// # Thread Safety
//
// Safe for concurrent use.
type PushHub struct {
	mu        sync.RWMutex
	projects  map[string]map[string]*pushConn
	logger    *slog.Logger
	heartbeat time.Duration
	now       func() time.Time
}

type pushConn struct {
	id          string
	projectKey  string
	ws          *websocket.Conn
	send        chan datatypes.PushMessage
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// PushConnectionStats describes one live subscriber.
type PushConnectionStats struct {
	ID            string    `json:"id"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// PushProjectStats describes the subscribers of one project.
type PushProjectStats struct {
	ProjectKey      string                `json:"projectKey"`
	ConnectionCount int                   `json:"connectionCount"`
	Connections     []PushConnectionStats `json:"connections"`
}

// NewPushHub creates an empty hub. A nil logger uses slog.Default.
func NewPushHub(logger *slog.Logger) *PushHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushHub{
		projects:  make(map[string]map[string]*pushConn),
		logger:    logger,
		heartbeat: pushHeartbeatInterval,
		now:       time.Now,
	}
}

// Publish queues ev for every subscriber of projectKey. It never blocks.
func (h *PushHub) Publish(projectKey string, ev datatypes.ChatEvent) {
	if h == nil {
		return
	}
	msg := datatypes.NewPushMessage(ev, h.now().UTC())

	h.mu.RLock()
	conns := make([]*pushConn, 0, len(h.projects[projectKey]))
	for _, c := range h.projects[projectKey] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}
	for _, c := range conns {
		if !c.enqueue(msg) {
			h.logger.Warn("push subscriber too slow, disconnecting",
				"project_key", projectKey, "connection_id", c.id)
			h.remove(c)
		}
	}
	h.logger.Debug("pushed chat event",
		"project_key", projectKey, "event", ev.Event, "connections", len(conns))
}

// Publisher returns a callback that publishes to projectKey, for
// NewChatEventWriter.
func (h *PushHub) Publisher(projectKey string) func(datatypes.ChatEvent) {
	if h == nil {
		return nil
	}
	return func(ev datatypes.ChatEvent) { h.Publish(projectKey, ev) }
}

// Stats reports the subscribers of projectKey.
func (h *PushHub) Stats(projectKey string) PushProjectStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := PushProjectStats{ProjectKey: projectKey, Connections: []PushConnectionStats{}}
	for _, c := range h.projects[projectKey] {
		c.mu.Lock()
		stats.Connections = append(stats.Connections, PushConnectionStats{
			ID:            c.id,
			ConnectedAt:   c.connectedAt,
			LastHeartbeat: c.lastHeartbeat,
		})
		c.mu.Unlock()
	}
	stats.ConnectionCount = len(stats.Connections)
	return stats
}

// CloseAll disconnects every subscriber. Used on shutdown.
func (h *PushHub) CloseAll() {
	h.mu.Lock()
	var conns []*pushConn
	for _, byID := range h.projects {
		for _, c := range byID {
			conns = append(conns, c)
		}
	}
	h.projects = make(map[string]map[string]*pushConn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
		observability.DefaultMetrics.PushDisconnected()
	}
	if len(conns) > 0 {
		h.logger.Info("closed push connections", "count", len(conns))
	}
}

// HandlePush upgrades the request and subscribes it to its project.
//
// # Description
//
// The project does not need to exist yet: a client may subscribe before
// the first init. The handler returns when the connection closes.
//
// # Inputs
//
//   - c: Gin context with the projectKey path parameter.
func (h *PushHub) HandlePush(c *gin.Context) {
	projectKey := c.Param("projectKey")
	if err := datatypes.ValidateProjectKey(projectKey); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid project key"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", "error", err, "project_key", projectKey)
		return
	}

	now := h.now().UTC()
	conn := &pushConn{
		id:            uuid.NewString(),
		projectKey:    projectKey,
		ws:            ws,
		send:          make(chan datatypes.PushMessage, pushSendBuffer),
		done:          make(chan struct{}),
		connectedAt:   now,
		lastHeartbeat: now,
	}
	count := h.add(conn)
	h.logger.Info("push connection established",
		"project_key", projectKey, "connection_id", conn.id, "connections", count)

	conn.enqueue(datatypes.PushMessage{
		Event:     PushEventWelcome,
		Content:   "push connection established",
		Timestamp: now,
	})

	go h.writeLoop(conn)
	h.readLoop(conn)
	h.remove(conn)
}

// =============================================================================
// Connection Loops
// =============================================================================

func (h *PushHub) readLoop(c *pushConn) {
	c.ws.SetReadLimit(pushMaxReadBytes)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("push connection error",
					"project_key", c.projectKey, "connection_id", c.id, "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("unparseable push client message",
				"project_key", c.projectKey, "connection_id", c.id, "error", err)
			continue
		}
		if msg.Type == "ping" {
			c.mu.Lock()
			c.lastHeartbeat = h.now().UTC()
			c.mu.Unlock()
			c.enqueue(datatypes.PushMessage{Event: PushEventPong, Timestamp: h.now().UTC()})
		}
	}
}

func (h *PushHub) writeLoop(c *pushConn) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		var msg datatypes.PushMessage
		select {
		case <-c.done:
			return
		case msg = <-c.send:
		case <-ticker.C:
			msg = datatypes.PushMessage{
				Event:     PushEventHeartbeat,
				Content:   PushEventHeartbeat,
				Timestamp: h.now().UTC(),
			}
		}

		_ = c.ws.SetWriteDeadline(time.Now().Add(pushWriteTimeout))
		if err := c.ws.WriteJSON(msg); err != nil {
			h.logger.Warn("failed to write push message",
				"project_key", c.projectKey, "connection_id", c.id, "error", err)
			c.close()
			return
		}
	}
}

// =============================================================================
// Registry
// =============================================================================

func (h *PushHub) add(c *pushConn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID, ok := h.projects[c.projectKey]
	if !ok {
		byID = make(map[string]*pushConn)
		h.projects[c.projectKey] = byID
	}
	byID[c.id] = c
	observability.DefaultMetrics.PushConnected()
	return len(byID)
}

func (h *PushHub) remove(c *pushConn) {
	h.mu.Lock()
	byID, ok := h.projects[c.projectKey]
	_, present := byID[c.id]
	if ok && present {
		delete(byID, c.id)
		if len(byID) == 0 {
			delete(h.projects, c.projectKey)
		}
	}
	h.mu.Unlock()

	c.close()
	if present {
		observability.DefaultMetrics.PushDisconnected()
		h.logger.Info("push connection closed",
			"project_key", c.projectKey, "connection_id", c.id)
	}
}

// enqueue reports false when the connection's queue is full.
func (c *pushConn) enqueue(msg datatypes.PushMessage) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *pushConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
