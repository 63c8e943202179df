// Package session implements the per-connection state machine shared by
// TCP-client, accepted TCP-peer, and serial carriers. All three variants
// share one Session type tagged by Kind (Design Notes §9) rather than
// separate structs, since they differ only in how the underlying stream is
// opened and whether they reconnect.
//
// Every exported method is safe to call from any goroutine: Start, Stop,
// Send, and SendLine take effect by posting a closure to the owning
// Reactor, which is the only goroutine that ever touches Session state.
// IsConnected and State are atomic snapshots and may be read directly.
package session

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/unilink/unilink-go/errorhandler"
	"github.com/unilink/unilink-go/logger"
	"github.com/unilink/unilink-go/pool"
	"github.com/unilink/unilink-go/reactor"
	"github.com/unilink/unilink-go/utils"
	"go.bug.st/serial"
)

// minRXBufferSize is the minimum size of the single in-flight read buffer,
// per spec (>= 4 KiB).
const minRXBufferSize = 4096

// PeerOwner is the non-owning handle an accepted TCP-peer Session holds
// back to its Server, per Design Notes §9: an integer id plus a callback
// interface rather than a pointer cycle back to the owning type.
type PeerOwner interface {
	// RemovePeer is called once, from the reactor thread, when a peer
	// Session reaches Closed or Error.
	RemovePeer(id uint32)
}

// Session is a single byte-stream connection: a TCP client, an accepted
// TCP server peer, or a serial port. Construct one with NewTCPClient,
// NewSerial, or NewPeer.
type Session struct {
	kind   Kind
	cfg    Config
	rtor   *reactor.Reactor
	pool   *pool.Pool
	errs   *errorhandler.Handler
	log    logger.Logger
	peerID uint32
	owner  PeerOwner

	state atomic.Int32 // LinkState, written only on the reactor thread

	stream     io.ReadWriteCloser
	retries    int
	retryTimer *time.Timer

	txQueue  []*pool.Buffer
	writing  bool
	reading  bool
	stopped  bool
	peerConn net.Conn // set for KindTCPPeer/KindTCPClient, used for RemoteAddr

	onData  DataHandler
	onState StateHandler
	onError ErrorHandler
}

// NewTCPClient constructs a Session that dials cfg.Host:cfg.Port on
// Start and, unless stopped explicitly, reconnects on cfg.RetryInterval
// after any disconnect.
func NewTCPClient(cfg Config, rtor *reactor.Reactor, p *pool.Pool, errs *errorhandler.Handler, log logger.Logger) *Session {
	return &Session{kind: KindTCPClient, cfg: cfg, rtor: rtor, pool: p, errs: errs, log: log}
}

// NewSerial constructs a Session that opens cfg.Device on Start and
// reconnects (re-opens) on cfg.RetryInterval after the port closes or
// errors.
func NewSerial(cfg Config, rtor *reactor.Reactor, p *pool.Pool, errs *errorhandler.Handler, log logger.Logger) *Session {
	return &Session{kind: KindSerial, cfg: cfg, rtor: rtor, pool: p, errs: errs, log: log}
}

// NewPeer wraps an already-accepted net.Conn as a Session. Peer sessions
// never reconnect; when they close, owner.RemovePeer(id) is invoked.
func NewPeer(conn net.Conn, id uint32, owner PeerOwner, rtor *reactor.Reactor, p *pool.Pool, errs *errorhandler.Handler, log logger.Logger) *Session {
	s := &Session{kind: KindTCPPeer, rtor: rtor, pool: p, errs: errs, log: log, peerID: id, owner: owner, peerConn: conn, stream: conn}
	s.state.Store(int32(Connected))

	return s
}

// OnData registers the handler invoked per read completion. Safe to call
// before or after Start; a handler registered after Start takes effect on
// the next event.
func (s *Session) OnData(h DataHandler) {
	s.rtor.Post(func() { s.onData = h })
}

// OnState registers the handler invoked on every LinkState transition.
func (s *Session) OnState(h StateHandler) {
	s.rtor.Post(func() { s.onState = h })
}

// OnError registers the handler invoked on recoverable and fatal errors.
func (s *Session) OnError(h ErrorHandler) {
	s.rtor.Post(func() { s.onError = h })
}

// Kind reports which carrier this Session wraps.
func (s *Session) Kind() Kind { return s.kind }

// State returns an atomic snapshot of the current LinkState.
func (s *Session) State() LinkState {
	return LinkState(s.state.Load())
}

// IsConnected reports whether State() == Connected.
func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// RemoteAddr returns the peer's address string, or "" if not applicable
// (e.g. a serial session, or before the first successful connect).
func (s *Session) RemoteAddr() string {
	if s.peerConn != nil {
		return s.peerConn.RemoteAddr().String()
	}

	return ""
}

// Start begins connecting (TCP client) or opening (serial). It is
// idempotent: calling Start while already Connecting or Connected is a
// no-op. On a peer Session, which is already Connected when constructed,
// Start arms the first read instead of dialing.
func (s *Session) Start() {
	s.rtor.Post(s.start)
}

func (s *Session) start() {
	if s.kind == KindTCPPeer {
		s.armRead()
		return
	}

	st := s.State()
	if st == Connecting || st == Connected {
		return
	}

	s.stopped = false
	s.setState(Connecting)
	s.dial()
}

// dial runs the blocking connect/open in a fresh goroutine and posts the
// result back to the reactor thread. This is the Go rendering of the
// reactor's "non-blocking connect": the syscall itself blocks a throwaway
// goroutine, never the dispatcher.
func (s *Session) dial() {
	switch s.kind {
	case KindTCPClient:
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		timeout := s.cfg.ConnectTimeout
		go func() {
			d := net.Dialer{Timeout: timeout}
			conn, err := d.Dial("tcp", addr)
			s.rtor.Post(func() { s.onDialComplete(conn, err) })
		}()
	case KindSerial:
		mode := &serial.Mode{
			BaudRate: s.cfg.BaudRate,
			DataBits: s.cfg.DataBits,
			StopBits: serialStopBits(s.cfg.StopBits),
			Parity:   serialParity(s.cfg.Parity),
		}
		device := s.cfg.Device
		go func() {
			port, err := serial.Open(device, mode)
			var stream io.ReadWriteCloser
			if err == nil {
				stream = port
			}
			s.rtor.Post(func() { s.onDialComplete(stream, err) })
		}()
	}
}

func serialStopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}

	return serial.OneStopBit
}

func serialParity(p Parity) serial.Parity {
	switch p {
	case ParityOdd:
		return serial.OddParity
	case ParityEven:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

// onDialComplete runs on the reactor thread.
func (s *Session) onDialComplete(stream io.ReadWriteCloser, err error) {
	if s.stopped {
		if stream != nil {
			_ = stream.Close()
		}

		return
	}

	if err != nil {
		s.report(errorhandler.Connection, errorhandler.Warning, "dial", err.Error(), true)
		s.emitError(err.Error())
		s.armRetry()

		return
	}

	s.stream = stream
	if conn, ok := stream.(net.Conn); ok {
		s.peerConn = conn
	}

	s.retries = 0
	s.setState(Connected)
	s.armRead()
}

// armRetry schedules the next connect attempt after cfg.retryInterval,
// unless MaxRetries has been reached (in which case the session settles
// in Error).
func (s *Session) armRetry() {
	if s.cfg.MaxRetries > 0 && s.retries >= s.cfg.MaxRetries {
		s.setState(Error)
		return
	}

	s.retries++
	interval := s.cfg.retryInterval()
	s.retryTimer = time.AfterFunc(interval, func() {
		s.rtor.Post(func() {
			if s.stopped || s.State() == Connected {
				return
			}

			s.setState(Connecting)
			s.dial()
		})
	})
}

// armRead issues the single outstanding read for this session, acquiring
// one pool buffer and handing the blocking Read to a throwaway goroutine.
func (s *Session) armRead() {
	if s.reading || s.stream == nil {
		return
	}

	s.reading = true
	stream := s.stream
	buf := s.pool.Acquire(minRXBufferSize)

	go func() {
		n, err := stream.Read(buf.Bytes)
		s.rtor.Post(func() { s.onReadComplete(stream, buf, n, err) })
	}()
}

func (s *Session) onReadComplete(stream io.ReadWriteCloser, buf *pool.Buffer, n int, err error) {
	s.reading = false

	if stream != s.stream {
		// A Stop()/reconnect raced this completion against a now-retired
		// stream; drop it.
		s.pool.Release(buf)
		return
	}

	if n > 0 {
		if s.onData != nil {
			s.onData(buf.Bytes[:n])
		}
	}

	s.pool.Release(buf)

	if err != nil {
		s.handleStreamError(err)
		return
	}

	if n == 0 {
		s.handleStreamError(io.EOF)
		return
	}

	s.armRead()
}

func (s *Session) handleStreamError(err error) {
	if s.stopped {
		return
	}

	_ = s.closeStream()

	if s.kind == KindTCPPeer {
		s.setState(Closed)
		s.emitError(err.Error())
		s.removeFromOwner()
		return
	}

	s.report(errorhandler.Communication, errorhandler.Warning, "read", err.Error(), true)
	s.setState(Closed)
	s.emitError(err.Error())
	s.drainTXQueue()
	s.armRetry()
}

// Send copies data into a pool buffer and appends it to the TX queue,
// scheduling a write if one is not already in flight. If the session is
// not Connected, no buffer is acquired and the bytes are silently dropped
// (§9 Open Question (a) — the source drops, this spec adopts that).
func (s *Session) Send(data []byte) {
	s.rtor.Post(func() { s.send(data) })
}

// SendLine is equivalent to Send(s + "\n").
func (s *Session) SendLine(line string) {
	s.Send(append([]byte(line), '\n'))
}

func (s *Session) send(data []byte) {
	if s.State() != Connected {
		return
	}

	buf := s.pool.Acquire(len(data))
	copy(buf.Bytes, data)

	s.txQueue = append(s.txQueue, buf)
	s.armWrite()
}

// armWrite joins every currently-queued buffer into a single write, so
// sends that pile up faster than the in-flight write drains cost one
// syscall instead of one per Send call.
func (s *Session) armWrite() {
	if s.writing || len(s.txQueue) == 0 || s.stream == nil {
		return
	}

	s.writing = true
	stream := s.stream

	chunks := make([][]byte, len(s.txQueue))
	for i, buf := range s.txQueue {
		chunks[i] = buf.Bytes
	}
	payload := utils.JoinBytes(chunks...)
	pending := len(s.txQueue)

	go func() {
		_, err := stream.Write(payload)
		s.rtor.Post(func() { s.onWriteComplete(stream, pending, err) })
	}()
}

func (s *Session) onWriteComplete(stream io.ReadWriteCloser, pending int, err error) {
	s.writing = false

	if stream != s.stream {
		return
	}

	if pending > len(s.txQueue) {
		pending = len(s.txQueue)
	}
	for _, buf := range s.txQueue[:pending] {
		s.pool.Release(buf)
	}
	s.txQueue = s.txQueue[pending:]

	if err != nil {
		s.drainTXQueue()
		s.report(errorhandler.Communication, errorhandler.Error, "write", err.Error(), false)
		s.emitError(err.Error())
		_ = s.closeStream()
		s.setState(Error)

		if s.kind == KindTCPPeer {
			s.removeFromOwner()
		} else {
			s.armRetry()
		}

		return
	}

	s.armWrite()
}

func (s *Session) drainTXQueue() {
	for _, buf := range s.txQueue {
		s.pool.Release(buf)
	}

	s.txQueue = nil
}

// Stop cancels any pending retry timer, closes the stream, drains the TX
// queue (pending buffers are released, not transmitted), and transitions
// to Closed. Stop on an Idle session is a no-op: no callbacks fire. Safe to
// call from any goroutine.
func (s *Session) Stop() {
	s.rtor.Post(s.stop)
}

func (s *Session) stop() {
	if s.State() == Idle {
		return
	}

	if s.stopped {
		return
	}

	s.stopped = true

	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}

	_ = s.closeStream()
	s.drainTXQueue()
	s.setState(Closed)

	if s.kind == KindTCPPeer {
		s.removeFromOwner()
	}
}

func (s *Session) removeFromOwner() {
	if s.owner != nil {
		s.owner.RemovePeer(s.peerID)
	}
}

func (s *Session) closeStream() error {
	if s.stream == nil {
		return nil
	}

	err := s.stream.Close()
	s.stream = nil

	return err
}

func (s *Session) setState(next LinkState) {
	s.state.Store(int32(next))

	if s.log != nil {
		s.log.Info("session state changed", logger.Field{Key: "kind", Value: s.kind.String()}, logger.Field{Key: "state", Value: next.String()})
	}

	if s.onState != nil {
		s.onState(next)
	}
}

func (s *Session) emitError(message string) {
	if s.onError != nil {
		s.onError(message)
	}
}

func (s *Session) report(category errorhandler.Category, level errorhandler.Level, operation, message string, retryable bool) {
	if s.errs == nil {
		return
	}

	s.errs.Report(errorhandler.ErrorInfo{
		Level:     level,
		Category:  category,
		Component: "session." + s.kind.String(),
		Operation: operation,
		Message:   message,
		Retryable: retryable,
	})
}
