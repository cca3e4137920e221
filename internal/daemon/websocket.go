package daemon

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cosflow/internal/logging"
	"cosflow/internal/notifications"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// wsSubscriber forwards hub events to one websocket connection.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Deliver(_ context.Context, evt notifications.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(evt)
}

func (s *wsSubscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// events streams state-change events to the caller until either side closes.
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &wsSubscriber{id: "ws-" + strconv.FormatInt(actor(r), 10) + "-" + uuid.NewString(), conn: conn}
	unsubscribe := h.daemon.hub.Subscribe(sub)
	logger := logging.WithContext(r.Context(), h.logger)
	logger.Debug("websocket subscriber connected", logging.String("subscriber", sub.id))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-closed:
			break loop
		case <-r.Context().Done():
			break loop
		case <-ticker.C:
			if err := sub.ping(); err != nil {
				break loop
			}
		}
	}

	unsubscribe()
	_ = conn.Close()
	logger.Debug("websocket subscriber disconnected", logging.String("subscriber", sub.id))
}
