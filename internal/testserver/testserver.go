// Package testserver provides a minimal in-process FrostByte node
// speaking the text protocol, for use in tests. It supports a handful
// of scriptable failure modes: refusing PINGs, delaying replies, and
// dropping connections mid-session.
package testserver

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	value   string
	expires time.Time
}

// Server is one scriptable cache node.
type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	store map[string]entry
	conns map[net.Conn]struct{}

	startedAt time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
	gets   atomic.Uint64
	dels   atomic.Uint64

	failPings  atomic.Bool
	replyDelay atomic.Int64 // nanoseconds
	closed     atomic.Bool
}

// Start listens on an ephemeral localhost port and serves until Stop.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		ln:        ln,
		store:     make(map[string]entry),
		conns:     make(map[net.Conn]struct{}),
		startedAt: time.Now(),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// HostPort returns the listen address split into host and port.
func (s *Server) HostPort() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// SetFailPings makes the server answer ERROR to PING, simulating an
// unhealthy node while keeping the socket alive.
func (s *Server) SetFailPings(fail bool) {
	s.failPings.Store(fail)
}

// SetReplyDelay delays every reply by d.
func (s *Server) SetReplyDelay(d time.Duration) {
	s.replyDelay.Store(int64(d))
}

// Stop closes the listener, drops live sessions, and waits for them to end.
func (s *Server) Stop() {
	if s.closed.Swap(true) {
		return
	}
	_ = s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		reply := s.handle(line)

		if d := time.Duration(s.replyDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		if _, err := fmt.Fprintf(conn, "%s\r\n", reply); err != nil {
			return
		}
	}
}

func (s *Server) handle(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR: empty command"
	}

	switch fields[0] {
	case "PING":
		if s.failPings.Load() {
			return "ERROR: unhealthy"
		}
		return "PONG"

	case "PUT":
		if len(fields) < 3 {
			return "ERROR: PUT wants key and value"
		}
		s.puts.Add(1)
		e := entry{value: fields[2]}
		if len(fields) == 4 {
			ttl, err := strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				return "ERROR: bad ttl"
			}
			e.expires = time.Now().Add(time.Duration(ttl) * time.Second)
		}
		s.mu.Lock()
		s.store[fields[1]] = e
		s.mu.Unlock()
		return "OK"

	case "GET":
		if len(fields) != 2 {
			return "ERROR: GET wants a key"
		}
		s.gets.Add(1)
		value, ok := s.lookup(fields[1])
		if !ok {
			s.misses.Add(1)
			return "NULL"
		}
		s.hits.Add(1)
		return value

	case "DEL":
		if len(fields) != 2 {
			return "ERROR: DEL wants a key"
		}
		s.dels.Add(1)
		s.mu.Lock()
		_, ok := s.store[fields[1]]
		delete(s.store, fields[1])
		s.mu.Unlock()
		if !ok {
			return "NULL"
		}
		return "OK"

	case "EXPIRE":
		if len(fields) != 3 {
			return "ERROR: EXPIRE wants key and ttl"
		}
		ttl, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return "ERROR: bad ttl"
		}
		s.mu.Lock()
		e, ok := s.store[fields[1]]
		if ok {
			e.expires = time.Now().Add(time.Duration(ttl) * time.Second)
			s.store[fields[1]] = e
		}
		s.mu.Unlock()
		if !ok {
			return "NULL"
		}
		return "OK"

	case "STATS":
		return "STATS: " + s.statsJSON()

	case "METRICS":
		return fmt.Sprintf(`STATS: {"connections": 1, "keys": %d}`, s.keyCount())

	default:
		return "ERROR: unknown command " + fields[0]
	}
}

func (s *Server) lookup(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.store[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.store, key)
		return "", false
	}
	return e.value, true
}

func (s *Server) keyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}

func (s *Server) statsJSON() string {
	hits := s.hits.Load()
	misses := s.misses.Load()
	ratio := 0.0
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}
	return fmt.Sprintf(
		`{"keys": %d, "hits": %d, "misses": %d, "puts": %d, "gets": %d, "dels": %d, "hit_ratio": %.4f, "uptime_seconds": %d}`,
		s.keyCount(), hits, misses, s.puts.Load(), s.gets.Load(), s.dels.Load(),
		ratio, uint64(time.Since(s.startedAt).Seconds())+1,
	)
}
