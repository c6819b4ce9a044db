package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/pierregrothe/graphrag-api-sub000/internal/audit"
	ws "github.com/gorilla/websocket"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

const auditWriteTimeout = 10 * time.Second

// AuditStreamHandler pushes audit events to admin clients over a websocket.
// Authentication and the read:audit permission check happen in middleware
// before the upgrade.
type AuditStreamHandler struct {
	audit *audit.Logger
}

func NewAuditStreamHandler(auditLog *audit.Logger) *AuditStreamHandler {
	return &AuditStreamHandler{audit: auditLog}
}

func (h *AuditStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	events, cancel := h.audit.Subscribe()
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ERROR [audit.Stream] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close handshakes are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(auditWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-clientGone:
			return
		}
	}
}
