package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/messages"
)

// frameHeaderSize is the size of the big-endian length prefix in front of every TCP frame.
const frameHeaderSize = 4

// TCPServer represents a TCP server.
type TCPServer struct {
	port int
}

type NewTCPServerOptions struct {
	Port int
}

// NewTCPServer creates a new TCP server.
func NewTCPServer(opts NewTCPServerOptions) *TCPServer {
	return &TCPServer{
		port: opts.Port,
	}
}

// Start listens on the configured port and serves connections until ctx is done.
func (s *TCPServer) Start(ctx context.Context, handler ConnectionHandler) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, handler)
}

// Listen binds the configured port.
func (s *TCPServer) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on TCP port %d: %v", s.port, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done. Every connection is
// closed when ctx is done, and Serve waits for its handlers to return.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener, handler ConnectionHandler) error {
	log.Info("TCP server listening on %s", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info("TCP server closed")
				return nil
			}
			log.Error("Failed to accept TCP connection: %v", err)
			continue
		}

		log.Debug("New TCP connection from %s", conn.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, NewTCPConn(conn), handler)
		}()
	}
}

// serveConn runs handler for conn and closes conn when either returns.
func serveConn(ctx context.Context, conn Conn, handler ConnectionHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	handler(ctx, conn)
}

type tcpConn struct {
	conn      net.Conn
	reader    *bufio.Reader
	writeLock sync.Mutex
	closeOnce sync.Once
}

// NewTCPConn wraps conn with length-prefixed message framing.
func NewTCPConn(conn net.Conn) Conn {
	return &tcpConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (c *tcpConn) ReadMessage(_ context.Context) (*messages.Message, error) {
	return ReadMessageFromTCP(c.reader)
}

func (c *tcpConn) WriteMessage(_ context.Context, msg *messages.Message) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return WriteMessageToTCP(c.conn, msg)
}

func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// WriteMessageToTCP writes a length-prefixed Message to w
func WriteMessageToTCP(w io.Writer, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}
	if len(b) > messages.MessageBufferSize {
		return fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(b), messages.MessageBufferSize)
	}

	frame := make([]byte, frameHeaderSize+len(b))
	binary.BigEndian.PutUint32(frame, uint32(len(b)))
	copy(frame[frameHeaderSize:], b)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message to TCP connection: %v", err)
	}

	return nil
}

// ReadMessageFromTCP reads one length-prefixed Message from r
func ReadMessageFromTCP(r io.Reader) (*messages.Message, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, &ErrConnectionClosed{}
		}
		return nil, fmt.Errorf("failed to read frame header from TCP connection: %v", err)
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 || size > messages.MessageBufferSize {
		return nil, fmt.Errorf("invalid frame size %d", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, &ErrConnectionClosed{}
		}
		return nil, fmt.Errorf("failed to read frame body from TCP connection: %v", err)
	}

	msg, err := messages.DeserializeMessage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return msg, nil
}
