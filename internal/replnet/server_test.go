package replnet

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/redcon"
)

// respArray encodes args as a RESP array of bulk strings, the wire format
// a real client would send (PSYNC's handler parses cmd.Args positionally).
func respArray(args ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, a := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(a), a)
	}
	return []byte(b.String())
}

// freeAddr reserves a loopback port by binding and immediately releasing it.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// dialRetry dials addr, retrying briefly while the listener comes up.
func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerPsyncRegistersAndRespondsFullresync(t *testing.T) {
	var gotReq SyncRequest
	register := func(req SyncRequest, conn redcon.Conn) (uint64, error) {
		gotReq = req
		return 42, nil
	}

	addr := freeAddr(t)
	srv := NewServer(addr, register, nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	conn := dialRetry(t, addr)
	defer conn.Close()

	if _, err := conn.Write(respArray("PSYNC", "3", "127.0.0.1", "7001")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	if gotReq.StoreID != 3 || gotReq.SlaveListenIP != "127.0.0.1" || gotReq.SlaveListenPort != 7001 {
		t.Errorf("unexpected registered request: %+v", gotReq)
	}
	if line == "" {
		t.Error("expected a non-empty FULLRESYNC reply")
	}
}

func TestServerPsyncInvokesAttachAfterFullresync(t *testing.T) {
	register := func(req SyncRequest, conn redcon.Conn) (uint64, error) {
		return 7, nil
	}
	attached := make(chan SyncRequest, 1)
	attach := func(storeID int, clientID uint64, slaveListenIP string, slaveListenPort uint32) error {
		attached <- SyncRequest{StoreID: storeID, SlaveListenIP: slaveListenIP, SlaveListenPort: slaveListenPort}
		return nil
	}

	addr := freeAddr(t)
	srv := NewServer(addr, register, attach, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	conn := dialRetry(t, addr)
	defer conn.Close()

	if _, err := conn.Write(respArray("PSYNC", "5", "127.0.0.1", "7002")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case req := <-attached:
		if req.StoreID != 5 || req.SlaveListenIP != "127.0.0.1" || req.SlaveListenPort != 7002 {
			t.Errorf("unexpected attach args: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("attach was never called")
	}
}

func TestServerPsyncRejectsWrongArgCount(t *testing.T) {
	register := func(req SyncRequest, conn redcon.Conn) (uint64, error) {
		t.Fatal("register should not be called on a malformed PSYNC")
		return 0, nil
	}

	addr := freeAddr(t)
	srv := NewServer(addr, register, nil, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Close()

	conn := dialRetry(t, addr)
	defer conn.Close()

	if _, err := conn.Write(respArray("PSYNC", "1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if len(line) == 0 || line[0] != '-' {
		t.Errorf("expected an error reply for malformed PSYNC, got %q", line)
	}
}
