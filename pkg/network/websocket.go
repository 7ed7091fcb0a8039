package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
	"nhooyr.io/websocket"
)

// WSServer represents a WebSocket server.
type WSServer struct {
	port int
	tls  *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewWSServerOptions struct {
	Port int
	TLS  *TLSConfig
}

// NewWSServer creates a new WebSocket server.
func NewWSServer(opts NewWSServerOptions) *WSServer {
	return &WSServer{
		port: opts.Port,
		tls:  opts.TLS,
	}
}

// Handler upgrades requests to WebSocket connections and serves them with
// handler. Connections are closed when ctx is done.
func (s *WSServer) Handler(ctx context.Context, handler ConnectionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Error("Failed to upgrade to WebSocket: %v", err)
			return
		}
		c.SetReadLimit(messages.MessageBufferSize)
		log.Debug("New WebSocket connection from %s", r.RemoteAddr)

		serveConn(ctx, NewWSConn(c, r.RemoteAddr), handler)
	})
}

// Start listens on the configured port and serves until ctx is done.
func (s *WSServer) Start(ctx context.Context, handler ConnectionHandler) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, handler)
}

// Listen binds the configured port.
func (s *WSServer) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on WebSocket port %d: %v", s.port, err)
	}
	return ln, nil
}

// Serve serves WebSocket upgrades on ln until ctx is done.
func (s *WSServer) Serve(ctx context.Context, ln net.Listener, handler ConnectionHandler) error {
	server := &http.Server{Handler: s.Handler(ctx, handler)}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	var serve func() error
	if s.tls != nil {
		log.Info("WebSocket server listening on %s with TLS", ln.Addr().String())
		serve = func() error {
			return server.ServeTLS(ln, s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("WebSocket server listening on %s", ln.Addr().String())
		serve = func() error {
			return server.Serve(ln)
		}
	}
	if err := serve(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return nil
		}
		return fmt.Errorf("websocket server error: %v", err)
	}
	return nil
}

type wsConn struct {
	conn       *websocket.Conn
	remoteAddr string
	closeOnce  sync.Once
}

// NewWSConn wraps a WebSocket connection carrying one Message per binary frame.
func NewWSConn(conn *websocket.Conn, remoteAddr string) Conn {
	return &wsConn{
		conn:       conn,
		remoteAddr: remoteAddr,
	}
}

func (c *wsConn) ReadMessage(ctx context.Context) (*messages.Message, error) {
	return ReadMessageFromWS(ctx, c.conn)
}

func (c *wsConn) WriteMessage(ctx context.Context, msg *messages.Message) error {
	return WriteMessageToWS(ctx, c.conn, msg)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.remoteAddr
}

// WriteMessageToWS writes a Message to a WebSocket connection
func WriteMessageToWS(ctx context.Context, conn *websocket.Conn, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

// ReadMessageFromWS reads a Message from a WebSocket connection
func ReadMessageFromWS(ctx context.Context, conn *websocket.Conn) (*messages.Message, error) {
	typ, b, err := conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, &ErrConnectionClosed{}
		}
		if errors.Is(err, io.EOF) {
			return nil, &ErrConnectionClosed{}
		}
		return nil, fmt.Errorf("failed to read message from WebSocket connection: %v", err)
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("unexpected WebSocket message type %v", typ)
	}

	msg, err := messages.DeserializeMessage(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return msg, nil
}
