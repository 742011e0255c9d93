package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lox/daasclimate/internal/consult"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 8 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientMessage is sent by the browser. Type is "consult" or "cancel".
type ClientMessage struct {
	Type     string   `json:"type"`
	Activity string   `json:"activity"`
	Location string   `json:"location"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

func (s *Server) handleConsultSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &consultSession{
		conn:    conn,
		server:  s,
		logger:  s.logger.With("remote", r.RemoteAddr),
		timeout: s.opts.ConsultTimeout,
	}
	sess.run(ctx, cancel)
}

type consultSession struct {
	conn    *websocket.Conn
	server  *Server
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex
	runMu   sync.Mutex
	cancel  context.CancelFunc
}

// run reads client messages until the connection closes. Consultations
// run one at a time; a message arriving while one runs is rejected unless
// it is a cancel.
func (s *consultSession) run(ctx context.Context, closeSession context.CancelFunc) {
	s.conn.SetReadLimit(wsMaxMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var wg sync.WaitGroup
	defer wg.Wait()
	defer closeSession()

	go s.pinger(ctx)

	busy := make(chan struct{}, 1)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.send(consult.Event{Type: consult.EventError, Error: "invalid message format"})
			continue
		}

		switch msg.Type {
		case "consult":
			select {
			case busy <- struct{}{}:
			default:
				s.send(consult.Event{Type: consult.EventError, Error: "a consultation is already running"})
				continue
			}
			// The cancel func is in place before the run starts so a
			// cancel message right behind the consult is never lost.
			runCtx, cancel := context.WithTimeout(ctx, s.timeout)
			s.runMu.Lock()
			s.cancel = cancel
			s.runMu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-busy }()
				s.consult(runCtx, cancel, consult.Request{
					Activity: msg.Activity,
					Location: msg.Location,
					Lat:      msg.Lat,
					Lon:      msg.Lon,
				})
			}()
		case "cancel":
			s.runMu.Lock()
			if s.cancel != nil {
				s.cancel()
			}
			s.runMu.Unlock()
		default:
			s.send(consult.Event{Type: consult.EventError, Error: "unknown message type " + msg.Type})
		}
	}
}

func (s *consultSession) consult(ctx context.Context, cancel context.CancelFunc, req consult.Request) {
	defer func() {
		s.runMu.Lock()
		s.cancel = nil
		s.runMu.Unlock()
		cancel()
	}()
	if err := req.Validate(); err != nil {
		s.send(consult.Event{Type: consult.EventError, Error: err.Error()})
		return
	}

	res, err := s.server.svc.Run(ctx, req, func(e consult.Event) error {
		return s.send(e)
	})
	if err != nil {
		s.send(consult.Event{Type: consult.EventError, Error: userMessage(err)})
		return
	}
	s.send(consult.Event{Type: consult.EventDone, RunID: res.RunID})
}

func (s *consultSession) send(e consult.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(e)
}

func (s *consultSession) pinger(ctx context.Context) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
