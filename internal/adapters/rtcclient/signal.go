package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/protocol"
)

var (
	ErrClosed   = errors.New("signaling connection closed")
	ErrRejected = errors.New("request rejected by server")
)

const writeWait = 5 * time.Second

// signalConn is the client end of the signaling WebSocket. Requests are
// matched to replies by id; everything else goes to onMessage, in order.
type signalConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Message

	done      chan struct{}
	closeOnce sync.Once
}

func dialSignal(ctx context.Context, dialer *websocket.Dialer, url string) (*signalConn, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &signalConn{
		ws:      ws,
		pending: make(map[string]chan protocol.Message),
		done:    make(chan struct{}),
	}, nil
}

// run reads until the socket fails or is closed, then calls onClose.
func (s *signalConn) run(onMessage func(protocol.Message), onClose func(error)) {
	var err error
	defer func() {
		s.Close()
		onClose(err)
	}()
	for {
		var msg protocol.Message
		if err = s.ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.ReplyTo != "" && s.resolve(msg) {
			continue
		}
		onMessage(msg)
	}
}

func (s *signalConn) resolve(msg protocol.Message) bool {
	s.mu.Lock()
	ch, ok := s.pending[msg.ReplyTo]
	delete(s.pending, msg.ReplyTo)
	s.mu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (s *signalConn) send(msg protocol.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// request sends msg with a fresh id and waits for its reply. An error reply
// is returned as ErrRejected.
func (s *signalConn) request(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	msg.ID = uuid.NewString()
	ch := make(chan protocol.Message, 1)
	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.send(msg); err != nil {
		return protocol.Message{}, err
	}
	select {
	case reply := <-ch:
		if reply.Type == protocol.TypeError {
			return reply, fmt.Errorf("%w: %s: %s", ErrRejected, reply.Code, reply.Error)
		}
		return reply, nil
	case <-s.done:
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (s *signalConn) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		if err := s.ws.Close(); err != nil {
			log.Debug().Err(err).Str("module", "rtcclient").Msg("close signal socket")
		}
	})
}

func (s *signalConn) Done() <-chan struct{} { return s.done }
