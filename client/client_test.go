package client

import (
	"context"
	"encoding/base64"
	"net"
	"sync"
	"testing"
	"time"

	"dbwire/space"
	"dbwire/wire"
)

// stubServer stands in for the database server across the full client
// surface: greeting, auth, metadata scans, and CRUD dispatch.
type stubServer struct {
	ln net.Listener
}

func newStubServer(t *testing.T, handle func(net.Conn)) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &stubServer{ln: ln}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		handle(c)
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *stubServer) addr() (string, int) {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

func writeGreeting(c net.Conn) {
	buf := make([]byte, wire.GreetingSize)
	copy(buf, []byte("Stub DB Server 1.0.0 (Binary)"))
	salt := base64.StdEncoding.EncodeToString(make([]byte, 32))
	copy(buf[64:], salt)
	c.Write(buf)
}

// emptyMetadataServer answers any _vspace/_vindex scan with an empty
// result set, so Space("nope") resolves to SpaceNotFound.
func emptyMetadataServer(t *testing.T) *stubServer {
	return newStubServer(t, func(c net.Conn) {
		writeGreeting(c)
		for i := 0; i < 4; i++ {
			frame, err := wire.Decode(c)
			if err != nil {
				return
			}
			syncID := frame.Header[wire.KeySync]
			code, _ := frame.Header[wire.KeyCode].(int64)
			var respBody map[int]any
			if uint64(code) == wire.CodeAuth {
				respBody = map[int]any{}
			} else {
				respBody = map[int]any{wire.KeyData: []any{}}
			}
			wire.Encode(c, map[int]any{wire.KeyCode: int64(0), wire.KeySync: syncID}, respBody)
		}
	})
}

func TestNewReachesReadyWithDefaultCredentials(t *testing.T) {
	srv := emptyMetadataServer(t)
	host, port := srv.addr()

	cl, err := New(context.Background(), Config{Host: host, Port: port})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close()

	if !cl.IsConnected() {
		t.Fatal("expected IsConnected() == true")
	}
}

func TestSpaceNotFound(t *testing.T) {
	srv := emptyMetadataServer(t)
	host, port := srv.addr()

	cl, err := New(context.Background(), Config{Host: host, Port: port})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close()

	_, err = cl.Space("nope")
	if err == nil {
		t.Fatal("expected SpaceNotFound")
	}
}

// selectStubServer fully answers the metadata bootstrap for a single
// "test" space (id 512, primary index 0) and then serves one CRUD
// select returning [[1,"hello"]].
func selectStubServer(t *testing.T) *stubServer {
	return newStubServer(t, func(c net.Conn) {
		writeGreeting(c)
		for {
			frame, err := wire.Decode(c)
			if err != nil {
				return
			}
			syncID := frame.Header[wire.KeySync]
			code, _ := frame.Header[wire.KeyCode].(int64)

			var respBody map[int]any
			switch uint64(code) {
			case wire.CodeAuth:
				respBody = map[int]any{}
			case wire.CodeSelect:
				spaceID, _ := frame.Body[wire.KeySpaceID].(int64)
				switch spaceID {
				case 281: // _vspace
					respBody = map[int]any{wire.KeyData: []any{
						[]any{int64(512), uint64(1), "test", "memtx", map[string]any{}, map[string]any{}, []any{}},
					}}
				case 289: // _vindex
					respBody = map[int]any{wire.KeyData: []any{
						[]any{int64(512), int64(0), "primary", "tree", map[string]any{"unique": true},
							[]any{[]any{int64(0), "unsigned"}}},
					}}
				default: // the actual user select
					respBody = map[int]any{wire.KeyData: []any{
						[]any{int64(1), "hello"},
					}}
				}
			default:
				respBody = map[int]any{wire.KeyData: []any{}}
			}
			wire.Encode(c, map[int]any{wire.KeyCode: int64(0), wire.KeySync: syncID}, respBody)
		}
	})
}

func TestSpaceSelectRoundTrip(t *testing.T) {
	srv := selectStubServer(t)
	host, port := srv.addr()

	cl, err := New(context.Background(), Config{Host: host, Port: port})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close()

	sp, err := cl.Space("test")
	if err != nil {
		t.Fatalf("Space: %v", err)
	}

	rows, err := sp.Select("primary", []any{int64(1)}, space.SelectOptions{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][0] != int64(1) || rows[0][1] != "hello" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestDispatchTimesOut(t *testing.T) {
	srv := newStubServer(t, func(c net.Conn) {
		writeGreeting(c)
		// Auth still needs answering so the client reaches Ready.
		frame, err := wire.Decode(c)
		if err != nil {
			return
		}
		syncID := frame.Header[wire.KeySync]
		wire.Encode(c, map[int]any{wire.KeyCode: int64(0), wire.KeySync: syncID}, map[int]any{})
		// Then never answer anything else.
	})
	host, port := srv.addr()

	cl, err := New(context.Background(), Config{Host: host, Port: port, RequestTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close()

	_, err = cl.Space("ghost")
	if err == nil {
		t.Fatal("expected an error resolving space against a server that never answers")
	}
}

// TestConcurrentMultiplex exercises many concurrent dispatches against
// a stub that answers every select by echoing the request's key back in
// the response body, so each caller can assert it got its own payload
// rather than someone else's.
func TestConcurrentMultiplex(t *testing.T) {
	srv := newStubServer(t, func(c net.Conn) {
		writeGreeting(c)
		var writeMu sync.Mutex
		for {
			frame, err := wire.Decode(c)
			if err != nil {
				return
			}
			syncID := frame.Header[wire.KeySync]
			respBody := map[int]any{wire.KeyData: []any{frame.Body[wire.KeyKey]}}

			// Reply after a small sync-dependent delay, out of request
			// order, so a sync-id mismatch in correlation would surface as
			// a failure.
			go func() {
				time.Sleep(time.Duration(syncID.(int64)%5) * time.Millisecond)
				writeMu.Lock()
				defer writeMu.Unlock()
				wire.Encode(c, map[int]any{wire.KeyCode: int64(0), wire.KeySync: syncID}, respBody)
			}()
		}
	})
	host, port := srv.addr()

	cl, err := New(context.Background(), Config{Host: host, Port: port})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cl.Close()

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	bodies := make([]map[int]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := cl.dx.Dispatch(wire.CodeSelect, map[int]any{wire.KeySpaceID: int64(1), wire.KeyKey: []any{int64(i)}}, time.Second)
			errs[i] = err
			bodies[i] = body
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		data, _ := bodies[i][wire.KeyData].([]any)
		if len(data) != 1 {
			t.Fatalf("request %d: expected one echoed key, got %v", i, bodies[i])
		}
		key, _ := data[0].([]any)
		if len(key) != 1 || key[0] != int64(i) {
			t.Fatalf("request %d: got someone else's payload %v", i, data[0])
		}
	}
}
