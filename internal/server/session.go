package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zeusync/ecsync/internal/core/observability/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendQueueLen = 256
)

// session is one connected receiver. Frames are queued on send and written
// by a single writer goroutine.
type session struct {
	id          uuid.UUID
	conn        *websocket.Conn
	log         log.Log
	send        chan []byte
	connectedAt time.Time

	once   sync.Once
	closed chan struct{}
}

func newSession(conn *websocket.Conn, logger log.Log) *session {
	id := uuid.New()
	return &session{
		id:          id,
		conn:        conn,
		log:         logger.With(log.String("session", id.String())),
		send:        make(chan []byte, sendQueueLen),
		connectedAt: time.Now(),
		closed:      make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. It fails when the receiver
// cannot keep up.
func (s *session) enqueue(frame []byte) error {
	select {
	case <-s.closed:
		return ErrServerClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.log.Debug("write failed", log.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			s.flush()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued; the last patch is sent before the
// close frame.
func (s *session) flush() {
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump discards inbound frames; receivers never mutate the state. It
// returns when the connection fails or closes.
func (s *session) readPump() {
	defer s.close()
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read failed", log.Error(err))
			}
			return
		}
	}
}
