// Package builder provides the fluent configuration surface callers use to
// declare a transport before getting back a channel.Channel. Every setter
// just records a field; Build validates the whole configuration
// synchronously through validator before constructing anything, so
// configuration errors never reach the reactor.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/unilink/unilink-go/channel"
	"github.com/unilink/unilink-go/errorhandler"
	"github.com/unilink/unilink-go/logger"
	"github.com/unilink/unilink-go/pool"
	"github.com/unilink/unilink-go/reactor"
	"github.com/unilink/unilink-go/session"
	"github.com/unilink/unilink-go/tcpserver"
	"github.com/unilink/unilink-go/validator"
)

// carrier selects which constructor Build calls.
type carrier int

const (
	carrierUnset carrier = iota
	carrierTCPClient
	carrierTCPServer
	carrierSerial
)

// Builder accumulates a transport's configuration. The zero value is not
// usable directly for TCP; call TCPClient, TCPServer, or Serial first to
// select a carrier, then chain the other setters, then Build.
type Builder struct {
	carrier carrier

	host string
	port int

	device      string
	baudRate    int
	dataBits    int
	stopBits    int
	parity      session.Parity
	flowControl session.FlowControl

	retryInterval  time.Duration
	maxRetries     int
	connectTimeout time.Duration

	portRetryMax      int
	portRetryInterval time.Duration
	limit             tcpserver.ClientLimit

	autoStart             bool
	autoManage            bool
	useIndependentReactor bool

	onData       session.DataHandler
	onState      session.StateHandler
	onError      session.ErrorHandler
	onConnect    tcpserver.ConnectHandler
	onDisconnect tcpserver.DisconnectHandler

	log   logger.Logger
	cache *validator.Cache
}

// New returns an empty Builder. Chain a carrier selector next.
func New() *Builder {
	return &Builder{
		dataBits: 8,
		stopBits: 1,
		limit:    tcpserver.Unlimited(),
		cache:    validator.NewMemoryCache(time.Minute, 5*time.Minute),
	}
}

// TCPClient selects a TCP-client carrier connecting to host:port.
func (b *Builder) TCPClient(host string, port int) *Builder {
	b.carrier = carrierTCPClient
	b.host = host
	b.port = port

	return b
}

// TCPServer selects a TCP-server carrier listening on host:port.
func (b *Builder) TCPServer(host string, port int) *Builder {
	b.carrier = carrierTCPServer
	b.host = host
	b.port = port

	return b
}

// Serial selects a serial-port carrier opening device at baudRate.
func (b *Builder) Serial(device string, baudRate int) *Builder {
	b.carrier = carrierSerial
	b.device = device
	b.baudRate = baudRate

	return b
}

// DataBits sets the serial data bits (default 8).
func (b *Builder) DataBits(n int) *Builder { b.dataBits = n; return b }

// StopBits sets the serial stop bits (default 1).
func (b *Builder) StopBits(n int) *Builder { b.stopBits = n; return b }

// Parity sets the serial parity mode (default ParityNone).
func (b *Builder) Parity(p session.Parity) *Builder { b.parity = p; return b }

// FlowControl records the serial flow control mode (default FlowControlNone)
// in the session Config. The serial carrier does not apply it when opening
// the port.
func (b *Builder) FlowControl(f session.FlowControl) *Builder { b.flowControl = f; return b }

// RetryInterval sets the delay between client/serial reconnect attempts.
func (b *Builder) RetryInterval(d time.Duration) *Builder { b.retryInterval = d; return b }

// MaxRetries caps client/serial reconnect attempts; 0 means unbounded.
func (b *Builder) MaxRetries(n int) *Builder { b.maxRetries = n; return b }

// ConnectTimeout bounds a single TCP-client connect attempt. Serial opens
// are not bounded by it.
func (b *Builder) ConnectTimeout(d time.Duration) *Builder { b.connectTimeout = d; return b }

// EnablePortRetry makes a TCP server retry binding its address.
func (b *Builder) EnablePortRetry(max int, interval time.Duration) *Builder {
	b.portRetryMax = max
	b.portRetryInterval = interval

	return b
}

// SingleClient restricts a TCP server to one connected client at a time.
func (b *Builder) SingleClient() *Builder { b.limit = tcpserver.SingleClient(); return b }

// Bounded restricts a TCP server to n concurrent clients.
func (b *Builder) Bounded(n int) *Builder { b.limit = tcpserver.Bounded(n); return b }

// Unlimited allows a TCP server any number of concurrent clients (default).
func (b *Builder) Unlimited() *Builder { b.limit = tcpserver.Unlimited(); return b }

// AutoStart makes Build call Start on the constructed Channel before
// returning it.
func (b *Builder) AutoStart() *Builder { b.autoStart = true; return b }

// AutoManage records the auto-manage flag. Build does not read it: the
// process-wide default reactor, pool, and error handler are used whenever
// UseIndependentContext is not set, and UseIndependentContext takes effect
// whether or not AutoManage was called.
func (b *Builder) AutoManage() *Builder { b.autoManage = true; return b }

// UseIndependentContext gives the constructed Channel its own reactor,
// pool, and error handler rather than the process-wide defaults. Intended
// for tests and for isolating one transport's failures from the rest of a
// process.
func (b *Builder) UseIndependentContext() *Builder { b.useIndependentReactor = true; return b }

// OnData registers the data callback forwarded to the constructed Channel.
func (b *Builder) OnData(h session.DataHandler) *Builder { b.onData = h; return b }

// OnState registers the state-transition callback.
func (b *Builder) OnState(h session.StateHandler) *Builder { b.onState = h; return b }

// OnError registers the error callback.
func (b *Builder) OnError(h session.ErrorHandler) *Builder { b.onError = h; return b }

// OnConnect registers the server-only connect callback. Ignored for
// client/serial carriers.
func (b *Builder) OnConnect(h tcpserver.ConnectHandler) *Builder { b.onConnect = h; return b }

// OnDisconnect registers the server-only disconnect callback. Ignored for
// client/serial carriers.
func (b *Builder) OnDisconnect(h tcpserver.DisconnectHandler) *Builder { b.onDisconnect = h; return b }

// Logger attaches a logger.Logger to the constructed Channel's components.
func (b *Builder) Logger(l logger.Logger) *Builder { b.log = l; return b }

// Build validates the configuration and constructs the resulting Channel.
// Validation failures are returned immediately and never reach the
// reactor. If AutoStart was set, Build also starts the Channel and
// surfaces any Start error.
func (b *Builder) Build() (channel.Channel, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	rtor, p, errs := b.resolveInfra()

	var ch channel.Channel

	switch b.carrier {
	case carrierTCPClient:
		cfg := session.Config{
			Host:           b.host,
			Port:           b.port,
			RetryInterval:  b.retryInterval,
			MaxRetries:     b.maxRetries,
			ConnectTimeout: b.connectTimeout,
		}
		sess := session.NewTCPClient(cfg, rtor, p, errs, b.log)
		b.wireSessionCallbacks(sess)
		ch = channel.NewSessionChannel(sess)

	case carrierSerial:
		cfg := session.Config{
			Device:         b.device,
			BaudRate:       b.baudRate,
			DataBits:       b.dataBits,
			StopBits:       b.stopBits,
			Parity:         b.parity,
			FlowControl:    b.flowControl,
			RetryInterval:  b.retryInterval,
			MaxRetries:     b.maxRetries,
			ConnectTimeout: b.connectTimeout,
		}
		sess := session.NewSerial(cfg, rtor, p, errs, b.log)
		b.wireSessionCallbacks(sess)
		ch = channel.NewSessionChannel(sess)

	case carrierTCPServer:
		addr := fmt.Sprintf("%s:%d", b.host, b.port)
		srv := tcpserver.New("server", addr, rtor, p, errs, b.log)
		srv.Limit = b.limit
		if b.portRetryMax > 0 {
			srv.EnablePortRetry(b.portRetryMax, b.portRetryInterval)
		}

		sc := channel.NewServerChannel(srv)
		if b.onData != nil {
			sc.OnData(b.onData)
		}
		if b.onState != nil {
			sc.OnState(b.onState)
		}
		if b.onConnect != nil {
			sc.OnConnect(b.onConnect)
		}
		if b.onDisconnect != nil {
			sc.OnDisconnect(b.onDisconnect)
		}
		ch = sc

	default:
		return nil, fmt.Errorf("builder: no carrier selected")
	}

	if b.autoStart {
		if err := ch.Start(); err != nil {
			return nil, err
		}
	}

	return ch, nil
}

func (b *Builder) wireSessionCallbacks(sess *session.Session) {
	if b.onData != nil {
		sess.OnData(b.onData)
	}
	if b.onState != nil {
		sess.OnState(b.onState)
	}
	if b.onError != nil {
		sess.OnError(b.onError)
	}
}

func (b *Builder) resolveInfra() (*reactor.Reactor, *pool.Pool, *errorhandler.Handler) {
	if b.useIndependentReactor {
		return reactor.NewIndependent(), pool.New(), errorhandler.New()
	}

	return reactor.Default(), pool.Default(), errorhandler.Default()
}

func (b *Builder) validate() error {
	ctx := context.Background()

	switch b.carrier {
	case carrierTCPClient, carrierTCPServer:
		if err := b.cache.Validate(ctx, "host:"+b.host, func() error { return validator.ValidateHostname(b.host) }); err != nil {
			return err
		}

		if err := validator.ValidatePort(b.port); err != nil {
			return err
		}

	case carrierSerial:
		if err := b.cache.Validate(ctx, "device:"+b.device, func() error { return validator.ValidateDevicePath(b.device) }); err != nil {
			return err
		}

		if err := validator.ValidateBaudRate(b.baudRate); err != nil {
			return err
		}

		if err := validator.ValidateDataBits(b.dataBits); err != nil {
			return err
		}

		if err := validator.ValidateStopBits(b.stopBits); err != nil {
			return err
		}

	default:
		return fmt.Errorf("builder: no carrier selected")
	}

	return nil
}
