// Package tcpserver implements the multi-client TCP listener: accepting
// connections, admitting them against a ClientLimit policy, wrapping each
// as a session.Session, and fanning out connect/disconnect/data events.
package tcpserver

import (
	"fmt"
	"net"
	"time"

	"github.com/unilink/unilink-go/errorhandler"
	"github.com/unilink/unilink-go/idgenerator"
	"github.com/unilink/unilink-go/logger"
	"github.com/unilink/unilink-go/pool"
	"github.com/unilink/unilink-go/reactor"
	"github.com/unilink/unilink-go/safemap"
	"github.com/unilink/unilink-go/session"
)

// ClientLimit gates admission in acceptLoop before a session is created.
// An over-limit connection is closed immediately and never assigned an ID.
type ClientLimit struct {
	unlimited bool
	max       int
}

// Unlimited admits any number of concurrent clients.
func Unlimited() ClientLimit { return ClientLimit{unlimited: true} }

// SingleClient admits exactly one client at a time.
func SingleClient() ClientLimit { return ClientLimit{max: 1} }

// Bounded admits up to n concurrent clients; n <= 0 is treated as 1.
func Bounded(n int) ClientLimit { return ClientLimit{max: n} }

func (c ClientLimit) allows(current int) bool {
	if c.unlimited {
		return true
	}

	max := c.max
	if max <= 0 {
		max = 1
	}

	return current < max
}

// ConnectHandler is invoked once per admitted connection.
type ConnectHandler func(id uint32, addr string)

// DisconnectHandler is invoked once a client's session closes.
type DisconnectHandler func(id uint32)

// DataHandler is invoked per read completion from a given client.
type DataHandler func(id uint32, data []byte)

// Server accepts TCP connections on Addr, admits them per ClientLimit, and
// wraps each as a session.Session (Kind = KindTCPPeer). Grounded on the
// teacher's TCPServer: a listener, a running flag, and a safemap of
// sessions keyed by a generated ID, extended with admission limits, bind
// retry, and broadcast/send-to.
type Server struct {
	Name string
	Addr string

	Limit             ClientLimit
	PortRetryMax      int
	PortRetryInterval time.Duration

	Reactor      *reactor.Reactor
	Pool         *pool.Pool
	ErrorHandler *errorhandler.Handler
	Logger       logger.Logger

	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
	onData       DataHandler

	listener net.Listener
	running  bool
	sessions *safemap.SafeMap[uint32, *session.Session]
	ids      *idgenerator.IdGenerator
	stopCh   chan struct{}
}

// New constructs a Server bound to addr with an unlimited client policy and
// no port retry. Use the On*/Enable* setters before Start to customize it.
func New(name, addr string, rtor *reactor.Reactor, p *pool.Pool, errs *errorhandler.Handler, log logger.Logger) *Server {
	return &Server{
		Name:         name,
		Addr:         addr,
		Limit:        Unlimited(),
		Reactor:      rtor,
		Pool:         p,
		ErrorHandler: errs,
		Logger:       log,
		sessions:     safemap.NewSafeMap[uint32, *session.Session](),
		ids:          idgenerator.NewIdGenerator(0),
	}
}

// EnablePortRetry makes Start retry net.Listen up to max additional times,
// sleeping interval between attempts, before giving up.
func (s *Server) EnablePortRetry(max int, interval time.Duration) {
	s.PortRetryMax = max
	s.PortRetryInterval = interval
}

// OnConnect registers the connect callback.
func (s *Server) OnConnect(h ConnectHandler) { s.onConnect = h }

// OnDisconnect registers the disconnect callback.
func (s *Server) OnDisconnect(h DisconnectHandler) { s.onDisconnect = h }

// OnData registers the per-client data callback.
func (s *Server) OnData(h DataHandler) { s.onData = h }

// Start binds Addr (retrying per EnablePortRetry if set) and begins the
// accept loop in a goroutine. Returns an error if already running or if
// every bind attempt fails.
func (s *Server) Start() error {
	if s.running {
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := s.listenWithRetry()
	if err != nil {
		s.report(errorhandler.Error, "bind", err.Error())
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.listener = ln
	s.running = true
	s.stopCh = make(chan struct{})

	if s.Logger != nil {
		s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	}

	go s.acceptLoop()

	return nil
}

func (s *Server) listenWithRetry() (net.Listener, error) {
	attempts := s.PortRetryMax + 1

	var lastErr error
	for i := 0; i < attempts; i++ {
		ln, err := net.Listen("tcp", s.Addr)
		if err == nil {
			return ln, nil
		}

		lastErr = err

		if i < attempts-1 {
			if s.Logger != nil {
				s.Logger.Warn(fmt.Sprintf("%s server bind attempt failed, retrying", s.Name), logger.Field{Key: "error", Value: err})
			}
			time.Sleep(s.PortRetryInterval)
		}
	}

	return nil, lastErr
}

// Stop stops accepting new connections, closes the listener, and closes
// every active session. Safe to call when not running.
func (s *Server) Stop() {
	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.sessions.Range(func(id uint32, sess *session.Session) bool {
		sess.Stop()
		return true
	})

	if s.Logger != nil {
		s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
	}
}

// ListenAddr returns the listener's bound address, or "" before Start.
func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// ClientCount returns the number of currently tracked sessions.
func (s *Server) ClientCount() int {
	return s.sessions.Len()
}

// ConnectedClients returns the IDs of currently tracked sessions.
func (s *Server) ConnectedClients() []uint32 {
	ids := make([]uint32, 0, s.sessions.Len())
	s.sessions.Range(func(id uint32, _ *session.Session) bool {
		ids = append(ids, id)
		return true
	})

	return ids
}

// Broadcast sends data to every currently connected client.
func (s *Server) Broadcast(data []byte) {
	s.sessions.Range(func(_ uint32, sess *session.Session) bool {
		sess.Send(data)
		return true
	})
}

// SendTo sends data to a single client by ID. Returns false if no such
// client is currently connected.
func (s *Server) SendTo(id uint32, data []byte) bool {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return false
	}

	sess.Send(data)

	return true
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}

			s.report(errorhandler.Warning, "accept", err.Error())
			continue
		}

		if !s.Limit.allows(s.sessions.Len()) {
			_ = conn.Close()
			continue
		}

		id := s.ids.Id()
		addr := conn.RemoteAddr().String()

		sess := session.NewPeer(conn, id, s, s.Reactor, s.Pool, s.ErrorHandler, s.Logger)
		s.sessions.Store(id, sess)

		sess.OnData(func(data []byte) {
			if s.onData != nil {
				s.onData(id, data)
			}
		})

		// onConnect is posted through the reactor, same as onDisconnect
		// (RemovePeer) and onData, so every server callback observes one
		// thread rather than racing the accept goroutine against it.
		s.Reactor.Post(func() {
			if s.onConnect != nil {
				s.onConnect(id, addr)
			}
		})

		sess.Start()
	}
}

// RemovePeer implements session.PeerOwner: invoked once, from the reactor
// thread, when a peer session closes.
func (s *Server) RemovePeer(id uint32) {
	s.sessions.Delete(id)

	if s.onDisconnect != nil {
		s.onDisconnect(id)
	}
}

func (s *Server) report(level errorhandler.Level, operation, message string) {
	if s.ErrorHandler == nil {
		return
	}

	s.ErrorHandler.Report(errorhandler.ErrorInfo{
		Level:     level,
		Category:  errorhandler.Connection,
		Component: "tcpserver." + s.Name,
		Operation: operation,
		Message:   message,
	})
}
