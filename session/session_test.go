package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilink/unilink-go/errorhandler"
	"github.com/unilink/unilink-go/pool"
	"github.com/unilink/unilink-go/reactor"
)

func newFixtures(t *testing.T) (*reactor.Reactor, *pool.Pool, *errorhandler.Handler) {
	t.Helper()

	r := reactor.NewIndependent()
	t.Cleanup(r.Stop)

	return r, pool.New(), errorhandler.New()
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	return ln
}

func waitForState(t *testing.T, s *Session, want LinkState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for state %s, got %s", want, s.State())
}

func TestTCPClient_ConnectsToListener(t *testing.T) {
	r, p, errs := newFixtures(t)
	ln := listenLoopback(t)

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			t.Cleanup(func() { _ = conn.Close() })
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second}
	s := NewTCPClient(cfg, r, p, errs, nil)

	s.Start()
	waitForState(t, s, Connected)
	assert.True(t, s.IsConnected())

	s.Stop()
	waitForState(t, s, Closed)
}

func TestTCPClient_EchoesDataThroughDataHandler(t *testing.T) {
	r, p, errs := newFixtures(t)
	ln := listenLoopback(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second}
	s := NewTCPClient(cfg, r, p, errs, nil)

	received := make(chan []byte, 1)
	s.OnData(func(data []byte) {
		cp := append([]byte(nil), data...)
		received <- cp
	})

	s.Start()
	waitForState(t, s, Connected)

	conn := <-accepted
	t.Cleanup(func() { _ = conn.Close() })

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data")
	}
}

func TestTCPClient_SendWritesToPeer(t *testing.T) {
	r, p, errs := newFixtures(t)
	ln := listenLoopback(t)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second}
	s := NewTCPClient(cfg, r, p, errs, nil)

	s.Start()
	waitForState(t, s, Connected)

	conn := <-accepted
	t.Cleanup(func() { _ = conn.Close() })

	s.SendLine("ping")

	buf := make([]byte, 16)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\n", string(buf[:n]))
}

func TestTCPClient_ReconnectsAfterPeerCloses(t *testing.T) {
	r, p, errs := newFixtures(t)
	ln := listenLoopback(t)

	accepted := make(chan net.Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second, RetryInterval: 20 * time.Millisecond}
	s := NewTCPClient(cfg, r, p, errs, nil)

	s.Start()
	waitForState(t, s, Connected)

	first := <-accepted
	_ = first.Close()

	waitForState(t, s, Connected)

	select {
	case second := <-accepted:
		t.Cleanup(func() { _ = second.Close() })
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a second connection")
	}
}

func TestTCPClient_MaxRetriesSettlesInError(t *testing.T) {
	r, p, errs := newFixtures(t)

	ln := listenLoopback(t)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	cfg := Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: 100 * time.Millisecond, RetryInterval: 5 * time.Millisecond, MaxRetries: 2}
	s := NewTCPClient(cfg, r, p, errs, nil)

	s.Start()
	waitForState(t, s, Error)
}

func TestStop_OnIdleSessionIsNoOp(t *testing.T) {
	r, p, errs := newFixtures(t)

	cfg := Config{Host: "127.0.0.1", Port: 1}
	s := NewTCPClient(cfg, r, p, errs, nil)

	var called bool
	s.OnState(func(LinkState) { called = true })

	s.Stop()
	time.Sleep(20 * time.Millisecond)

	assert.False(t, called)
	assert.Equal(t, Idle, s.State())
}

type fakeOwner struct {
	removed chan uint32
}

func (f *fakeOwner) RemovePeer(id uint32) { f.removed <- id }

func TestPeerSession_StartsConnectedAndNotifiesOwnerOnClose(t *testing.T) {
	r, p, errs := newFixtures(t)
	ln := listenLoopback(t)

	clientDone := make(chan struct{})
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			close(clientDone)
			time.Sleep(50 * time.Millisecond)
			_ = conn.Close()
		}
	}()

	serverConn, err := ln.Accept()
	require.NoError(t, err)
	<-clientDone

	owner := &fakeOwner{removed: make(chan uint32, 1)}
	s := NewPeer(serverConn, 7, owner, r, p, errs, nil)

	assert.Equal(t, Connected, s.State())
	assert.Equal(t, KindTCPPeer, s.Kind())

	s.Start()

	select {
	case id := <-owner.removed:
		assert.EqualValues(t, 7, id)
	case <-time.After(2 * time.Second):
		t.Fatal("owner was never notified of peer removal")
	}

	assert.Equal(t, Closed, s.State())
}
