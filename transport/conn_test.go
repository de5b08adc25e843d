package transport

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostbyte-io/frostbyte-go/config"
	"github.com/frostbyte-io/frostbyte-go/protocol"
)

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{
		Host:                "127.0.0.1",
		Port:                1, // overridden by explicit addrs in tests
		ConnectionTimeout:   2 * time.Second,
		CommandTimeout:      2 * time.Second,
		AcquirePollInterval: 5 * time.Millisecond,
		HealthCheckInterval: time.Hour, // keep the health loop quiet unless a test wants it
		HealthCheckTimeout:  time.Second,
		PoolSize:            2,
	}.WithDefaults()
}

// startScriptedServer accepts exactly one connection and hands it to the
// script. The listener is closed when the test ends.
func startScriptedServer(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}()

	return ln.Addr().String()
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		return ""
	}
	return line
}

func TestConnReassemblesFragmentedReply(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r)
		_, _ = conn.Write([]byte("PO"))
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("NG\r\n"))
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	defer func() { _ = c.Disconnect() }()

	frame, err := c.Send([]byte("PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(frame))
}

func TestConnMatchesRepliesInSubmissionOrder(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	gotFirst := make(chan struct{})
	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r)
		close(gotFirst)
		readLine(t, r)
		// both replies in one burst, first request's reply first
		_, _ = conn.Write([]byte("reply-one\r\nreply-two\r\n"))
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	defer func() { _ = c.Disconnect() }()

	type outcome struct {
		frame []byte
		err   error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		frame, err := c.Send([]byte("GET one\r\n"))
		first <- outcome{frame, err}
	}()
	<-gotFirst
	go func() {
		frame, err := c.Send([]byte("GET two\r\n"))
		second <- outcome{frame, err}
	}()

	res1 := <-first
	res2 := <-second
	require.NoError(t, res1.err)
	require.NoError(t, res2.err)
	assert.Equal(t, "reply-one", string(res1.frame))
	assert.Equal(t, "reply-two", string(res2.frame))
}

func TestConnConcurrentSendersGetTheirOwnReplies(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	// echo server: every reply carries its request's payload, so a frame
	// delivered to the wrong sender is detectable
	addr := startScriptedServer(t, func(conn net.Conn) {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := strings.TrimSuffix(scanner.Text(), "\r")
			if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
				return
			}
		}
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	defer func() { _ = c.Disconnect() }()

	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	faults := make(chan string, workers*rounds)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				payload := fmt.Sprintf("GET w%d-r%d", w, i)
				frame, err := c.Send([]byte(payload + "\r\n"))
				if err != nil {
					faults <- fmt.Sprintf("send %s: %v", payload, err)
					return
				}
				if string(frame) != payload {
					faults <- fmt.Sprintf("sent %q, got reply %q", payload, frame)
				}
			}
		}(w)
	}
	wg.Wait()
	close(faults)

	misdelivered := 0
	for f := range faults {
		misdelivered++
		if misdelivered <= 5 {
			t.Error(f)
		}
	}
	if misdelivered > 5 {
		t.Errorf("... and %d further misdelivered replies", misdelivered-5)
	}
	assert.Equal(t, 0, c.Pending())
}

func TestConnPipelinePreservesOrder(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for i := 0; i < 3; i++ {
			readLine(t, r)
		}
		// replies split mid-frame on purpose
		_, _ = conn.Write([]byte("OK\r\nval"))
		time.Sleep(10 * time.Millisecond)
		_, _ = conn.Write([]byte("ue-a\r\nPONG\r\n"))
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	defer func() { _ = c.Disconnect() }()

	frames, err := c.SendPipeline([][]byte{
		[]byte("PUT a 1\r\n"),
		[]byte("GET a\r\n"),
		[]byte("PING\r\n"),
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "OK", string(frames[0]))
	assert.Equal(t, "value-a", string(frames[1]))
	assert.Equal(t, "PONG", string(frames[2]))
}

func TestConnDiscardsLateReplyForTimedOutRequest(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r)
		time.Sleep(150 * time.Millisecond)
		_, _ = conn.Write([]byte("stale\r\n")) // reply to the request that timed out
		readLine(t, r)
		_, _ = conn.Write([]byte("fresh\r\n"))
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	defer func() { _ = c.Disconnect() }()

	_, err := c.SendTimeout([]byte("GET slow\r\n"), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrCommandTimeout)

	// the stale frame must land in the abandoned slot, not in this one
	frame, err := c.Send([]byte("GET fast\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(frame))
	assert.Equal(t, 0, c.Pending())
}

func TestConnDestroyFailsOutstandingRequests(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r)
		// never reply, wait for the client to tear down
		readLine(t, r)
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send([]byte("GET stuck\r\n"))
		done <- err
	}()

	require.Eventually(t, func() bool { return c.Pending() == 1 },
		time.Second, 5*time.Millisecond)

	c.Destroy()
	require.ErrorIs(t, <-done, ErrConnectionDestroyed)
	assert.False(t, c.Connected())
}

func TestConnPeerCloseFailsOutstandingRequests(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readLine(t, r)
		// closing without replying fails the in-flight request
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)

	_, err := c.Send([]byte("GET doomed\r\n"))
	require.ErrorIs(t, err, ErrConnectionClosed)
	assert.False(t, c.Connected())
}

func TestConnConnectIsSingleFlight(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	addr := startScriptedServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for {
			if readLine(t, r) == "" {
				return
			}
			_, _ = conn.Write([]byte("PONG\r\n"))
		}
	})

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	defer func() { _ = c.Disconnect() }()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { errs <- c.Connect() }()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	assert.True(t, c.Connected())
}

func TestConnConnectRefused(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	// grab a port and close it again so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewConn(addr, protocol.NewTextCodec(), testClientConfig(), nil)
	require.Error(t, c.Connect())
	assert.False(t, c.Connected())
}
