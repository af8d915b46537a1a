package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// progressFrame is one WebSocket update for an in-flight complete.
type progressFrame struct {
	UploadID string  `json:"upload_id"`
	Uploaded int64   `json:"uploaded"`
	Total    int64   `json:"total"`
	Fraction float64 `json:"fraction"`
	Done     bool    `json:"done"`
	Status   string  `json:"status,omitempty"`
}

// progressHub fans the watchdog's progress events out to WebSocket
// subscribers keyed by upload ID.
type progressHub struct {
	mu     sync.Mutex
	subs   map[string]map[*websocket.Conn]struct{}
	logger *zap.Logger
}

func newProgressHub(logger *zap.Logger) *progressHub {
	return &progressHub{
		subs:   make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

func (h *progressHub) add(uploadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[uploadID] == nil {
		h.subs[uploadID] = make(map[*websocket.Conn]struct{})
	}

	h.subs[uploadID][conn] = struct{}{}
}

func (h *progressHub) remove(uploadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.subs[uploadID]; ok {
		delete(conns, conn)

		if len(conns) == 0 {
			delete(h.subs, uploadID)
		}
	}
}

// publish writes the frame to every subscriber. Connections that fail to
// write are dropped. Writes are serialized under the hub lock since gorilla
// connections allow only one concurrent writer.
func (h *progressHub) publish(uploadID string, frame progressFrame) {
	frame.UploadID = uploadID

	if frame.Total > 0 {
		frame.Fraction = float64(frame.Uploaded) / float64(frame.Total)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.subs[uploadID] {
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.Debug("Dropping progress subscriber",
				zap.String("upload_id", uploadID),
				zap.Error(err))

			_ = conn.Close()
			delete(h.subs[uploadID], conn)
		}
	}
}
