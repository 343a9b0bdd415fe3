package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

// Socket owns the streamer WebSocket connection. It reconnects with
// exponential backoff after drops and replays the connect handshake on
// every fresh connection; subscription restoration rides the handshake's
// acknowledgment chain, not the socket layer.
type Socket struct {
	url       string
	log       *slog.Logger
	onConnect func(context.Context) error
	handler   func(context.Context, []byte) error
	reportErr func(error)

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// NewSocket creates a socket for the given streamer URL. onConnect runs on
// every successful (re)connection before the read loop starts; handler
// receives every raw inbound frame; reportErr receives connection-level
// failures and must not block.
func NewSocket(log *slog.Logger, url string, onConnect func(context.Context) error, handler func(context.Context, []byte) error, reportErr func(error)) *Socket {
	if log == nil {
		log = slog.Default()
	}
	return &Socket{
		url:       url,
		log:       log.With("component", "stream-socket"),
		onConnect: onConnect,
		handler:   handler,
		reportErr: reportErr,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start dials in the background and blocks until the first connection is
// established or the timeout lapses.
func (s *Socket) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)
		s.run()
	}()

	select {
	case <-s.ready:
		return nil
	case <-time.After(connectTimeout):
		s.cancel()
		return fmt.Errorf("timed out connecting to streamer at %s", s.url)
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Stop closes the connection and waits for the read loop to exit.
func (s *Socket) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
	<-s.done
}

// Send writes one frame on the current connection.
func (s *Socket) Send(ctx context.Context, data []byte) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return errors.New("streamer not connected")
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// run maintains the connection until the socket context is canceled.
func (s *Socket) run() {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(s.ctx, s.url, nil)
		if err != nil {
			s.report(fmt.Errorf("dialing streamer: %w", err))
			if !s.sleep(backoffCfg.NextBackOff()) {
				return
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
		backoffCfg.Reset()

		if err := s.onConnect(s.ctx); err != nil {
			s.report(fmt.Errorf("streamer handshake: %w", err))
			_ = conn.Close(websocket.StatusNormalClosure, "")
		} else if err := s.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.report(fmt.Errorf("streamer read loop: %w", err))
		}

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()

		s.log.Warn("streamer connection lost, reconnecting")
		if !s.sleep(backoffCfg.NextBackOff()) {
			return
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handler(s.ctx, data); err != nil {
			s.report(err)
		}
	}
}

func (s *Socket) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Socket) report(err error) {
	if err == nil {
		return
	}
	s.log.Error("streamer failure", "error", err)
	if s.reportErr != nil {
		s.reportErr(err)
	}
}
