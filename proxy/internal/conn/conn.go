package conn

import (
	"net"

	uuid "github.com/satori/go.uuid"
)

// ClientConn represents an accepted client connection.
type ClientConn struct {
	ID   uuid.UUID
	Conn net.Conn
}

// NewClientConn creates a new ClientConn instance.
func NewClientConn(c net.Conn) *ClientConn {
	return &ClientConn{
		ID:   uuid.NewV4(),
		Conn: c,
	}
}

// Context carries per-connection state from accept to teardown.
type Context struct {
	ClientConn *ClientConn

	// Host and Port are the parsed CONNECT target.
	Host string
	Port string

	// Intercept records the dispatcher's routing decision: true for
	// TLS interception, false for blind passthrough.
	Intercept bool
}

// NewContext creates a new connection context.
func NewContext(clientConn *ClientConn) *Context {
	return &Context{
		ClientConn: clientConn,
	}
}

// ID returns the connection ID.
func (c *Context) ID() uuid.UUID {
	return c.ClientConn.ID
}
