// Package channel provides the uniform façade over a client Session or a
// Server: one interface a caller can Start, Stop, and Send through without
// caring whether the underlying carrier is a TCP client, a TCP server
// fanning out to many peers, or a serial port.
package channel

import (
	"github.com/unilink/unilink-go/session"
	"github.com/unilink/unilink-go/tcpserver"
)

// Channel is the handle returned to callers: a single, declaratively
// constructed transport they interact with via non-blocking sends and
// callbacks, regardless of carrier.
type Channel interface {
	// Start begins connecting/listening/opening, as appropriate for the
	// underlying carrier.
	Start() error
	// Stop closes the underlying carrier and releases its resources.
	Stop()
	// Send writes data on the single-peer carriers (client, serial). On a
	// server-backed Channel it is equivalent to Broadcast.
	Send(data []byte)
	// SendLine is equivalent to Send(data + "\n").
	SendLine(line string)
	// IsConnected reports whether the carrier currently has at least one
	// live connection (client/serial: itself; server: any client).
	IsConnected() bool

	OnData(h session.DataHandler)
	OnState(h session.StateHandler)
	OnError(h session.ErrorHandler)
}

// ServerChannel is the server-specific extension of Channel exposed by
// channels built from a tcpserver.Server, giving callers access to
// per-client addressing and enumeration.
type ServerChannel interface {
	Channel

	Broadcast(data []byte)
	SendTo(id uint32, data []byte) bool
	ClientCount() int
	ConnectedClients() []uint32
	OnConnect(h tcpserver.ConnectHandler)
	OnDisconnect(h tcpserver.DisconnectHandler)
	// OnClientData registers a per-client data handler carrying the
	// originating client's ID, for callers that need to reply to the
	// sender specifically (e.g. via SendTo) rather than broadcast.
	OnClientData(h tcpserver.DataHandler)
}

// sessionChannel adapts a *session.Session (TCP client or serial) to
// Channel.
type sessionChannel struct {
	sess *session.Session
}

// NewSessionChannel wraps sess as a Channel.
func NewSessionChannel(sess *session.Session) Channel {
	return &sessionChannel{sess: sess}
}

func (c *sessionChannel) Start() error {
	c.sess.Start()
	return nil
}

func (c *sessionChannel) Stop()                          { c.sess.Stop() }
func (c *sessionChannel) Send(data []byte)               { c.sess.Send(data) }
func (c *sessionChannel) SendLine(line string)           { c.sess.SendLine(line) }
func (c *sessionChannel) IsConnected() bool              { return c.sess.IsConnected() }
func (c *sessionChannel) OnData(h session.DataHandler)   { c.sess.OnData(h) }
func (c *sessionChannel) OnState(h session.StateHandler) { c.sess.OnState(h) }
func (c *sessionChannel) OnError(h session.ErrorHandler) { c.sess.OnError(h) }

// serverChannel adapts a *tcpserver.Server to ServerChannel.
type serverChannel struct {
	srv *tcpserver.Server
}

// NewServerChannel wraps srv as a ServerChannel.
func NewServerChannel(srv *tcpserver.Server) ServerChannel {
	return &serverChannel{srv: srv}
}

func (c *serverChannel) Start() error { return c.srv.Start() }
func (c *serverChannel) Stop()        { c.srv.Stop() }

// Send broadcasts to every connected client, since a server-backed Channel
// has no single implicit peer.
func (c *serverChannel) Send(data []byte)     { c.srv.Broadcast(data) }
func (c *serverChannel) SendLine(line string) { c.srv.Broadcast(append([]byte(line), '\n')) }
func (c *serverChannel) IsConnected() bool    { return c.srv.ClientCount() > 0 }

func (c *serverChannel) OnData(h session.DataHandler) {
	c.srv.OnData(func(id uint32, data []byte) { h(data) })
}

func (c *serverChannel) OnClientData(h tcpserver.DataHandler) { c.srv.OnData(h) }

func (c *serverChannel) OnState(h session.StateHandler) {
	c.srv.OnConnect(func(uint32, string) { h(session.Connected) })
	c.srv.OnDisconnect(func(uint32) { h(session.Closed) })
}

func (c *serverChannel) OnError(h session.ErrorHandler) {
	// The server reports client-level errors through the shared
	// errorhandler.Handler rather than a per-channel callback; OnError is
	// accepted for interface symmetry with the client/serial channels but
	// has nothing to wire it to here.
	_ = h
}

func (c *serverChannel) Broadcast(data []byte)              { c.srv.Broadcast(data) }
func (c *serverChannel) SendTo(id uint32, data []byte) bool { return c.srv.SendTo(id, data) }
func (c *serverChannel) ClientCount() int                   { return c.srv.ClientCount() }
func (c *serverChannel) ConnectedClients() []uint32         { return c.srv.ConnectedClients() }
func (c *serverChannel) OnConnect(h tcpserver.ConnectHandler)       { c.srv.OnConnect(h) }
func (c *serverChannel) OnDisconnect(h tcpserver.DisconnectHandler) { c.srv.OnDisconnect(h) }
