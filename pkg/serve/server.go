package serve

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/websocket"

	"github.com/panelflow/panelflow/pkg/session"
	"github.com/panelflow/panelflow/pkg/trace"
)

// maxFrameBytes bounds a single inbound frame on either transport.
const maxFrameBytes = 4 * 1024 * 1024

// Server owns the websocket endpoint and the connection lifecycle. Each
// connection gets one reader goroutine; the router offloads anything
// blocking to workers.
type Server struct {
	router *Router
	hub    *Hub
	tracer *trace.Writer
	log    *log.Logger

	httpSrv *http.Server
}

// NewServer builds a server around a router. The router's hub must be the
// one passed here.
func NewServer(router *Router, hub *Hub, tracer *trace.Writer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{router: router, hub: hub, tracer: tracer, log: logger}
}

// ListenAndServe serves websocket connections on addr until ctx is
// cancelled, then shuts the listener down and lets in-flight streams
// observe the cancellation at their next advance boundary.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", websocket.Handler(func(ws *websocket.Conn) {
		s.serveWebsocket(ctx, ws)
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.log.Info("listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// serveWebsocket runs one connection's reader loop. Authentication comes
// from the upgrade request's headers; a connection without them streams
// unauthenticated and uncached.
func (s *Server) serveWebsocket(ctx context.Context, ws *websocket.Conn) {
	ws.MaxPayloadBytes = maxFrameBytes

	conn := newConn(func(data []byte) error {
		return websocket.Message.Send(ws, data)
	})
	conn.SetAuth(authFromRequest(ws.Request()))

	s.hub.Add(conn)
	s.tracer.Emit(conn.ID(), trace.EventConnOpen, map[string]any{"transport": "websocket"})
	s.log.Info("connection open", "conn", conn.ID(), "remote", ws.Request().RemoteAddr)

	defer func() {
		s.hub.Drop(conn)
		s.router.Teardown(conn)
		s.log.Info("connection closed", "conn", conn.ID())
	}()

	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("receive", "conn", conn.ID(), "err", err)
			}
			return
		}
		s.router.Handle(ctx, conn, raw)
	}
}

// ServeStdio runs the NDJSON single-connection mode: one JSON message per
// line on stdin, responses on stdout. Used for editor and pipe
// integrations.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	conn := newLineConn(out)
	conn.SetAuth(authFromEnv())

	s.hub.Add(conn)
	s.tracer.Emit(conn.ID(), trace.EventConnOpen, map[string]any{"transport": "stdio"})
	defer func() {
		s.hub.Drop(conn)
		s.router.Teardown(conn)
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		raw := make([]byte, len(line))
		copy(raw, line)
		s.router.Handle(ctx, conn, raw)
	}
	return scanner.Err()
}

// authFromRequest reads the identity headers set by the fronting proxy.
func authFromRequest(req *http.Request) *session.AuthState {
	if req == nil {
		return nil
	}
	a := &session.AuthState{
		ConnectionUser: req.Header.Get("X-Panelflow-User"),
		AppUser:        req.Header.Get("X-Panelflow-App-User"),
		Application:    req.Header.Get("X-Panelflow-App"),
		Role:           req.Header.Get("X-Panelflow-Role"),
	}
	if a.ConnectionUser == "" && a.AppUser == "" {
		return nil
	}
	return a
}

// authFromEnv builds the stdio connection's identity from the environment.
func authFromEnv() *session.AuthState {
	a := &session.AuthState{
		ConnectionUser: os.Getenv("PANELFLOW_USER"),
		AppUser:        os.Getenv("PANELFLOW_APP_USER"),
		Application:    os.Getenv("PANELFLOW_APP"),
		Role:           os.Getenv("PANELFLOW_ROLE"),
	}
	if a.ConnectionUser == "" && a.AppUser == "" {
		return nil
	}
	return a
}
