package network

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/cbodonnell/lobbysync/pkg/messages"
	servernetwork "github.com/cbodonnell/lobbysync/pkg/network"
	"nhooyr.io/websocket"
)

// Dial connects to a host transport address. The scheme selects the
// transport: tcp://host:port, ws://host:port/ or wss://host:port/.
func Dial(ctx context.Context, address string) (servernetwork.Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse host address %q: %v", address, err)
	}

	switch u.Scheme {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %v", err)
		}
		return servernetwork.NewTCPConn(conn), nil
	case "ws", "wss":
		conn, _, err := websocket.Dial(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %v", err)
		}
		conn.SetReadLimit(messages.MessageBufferSize)
		return servernetwork.NewWSConn(conn, u.Host), nil
	default:
		return nil, fmt.Errorf("unsupported host address scheme %q", u.Scheme)
	}
}
