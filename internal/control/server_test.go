package control

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"busd/internal/registry"
)

func startTestServer(t *testing.T) (*Server, string, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	reg := registry.New()
	s := New(Config{Address: "127.0.0.1:0"}, NewInterpreter(reg), nil)
	go func() { _ = s.Start(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := s.Addr(); addr != "" {
			return s, addr, cancel
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server not started")
	return nil, "", cancel
}

func TestServerRegisterSubscribeListRoundTrip(t *testing.T) {
	srv, addr, cancel := startTestServer(t)
	defer cancel()
	defer srv.Close()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	send := func(line string) string {
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			t.Fatal(err)
		}
		reply, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		return reply[:len(reply)-1]
	}

	if got := send("REGISTER c1 tcp://127.0.0.1:9001 a b"); got != "OK REGISTERED c1" {
		t.Fatalf("got %q", got)
	}
	if got := send("SUBSCRIBE c1 c"); got != "OK" {
		t.Fatalf("got %q", got)
	}

	if _, err := conn.Write([]byte("LIST\n")); err != nil {
		t.Fatal(err)
	}
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		line = line[:len(line)-1]
		lines = append(lines, line)
		if line == "END" {
			break
		}
	}
	want := []string{"c1 tcp://127.0.0.1:9001 a,b,c", "END"}
	if len(lines) != len(want) || lines[0] != want[0] || lines[1] != want[1] {
		t.Fatalf("got %v, want %v", lines, want)
	}

	if got := send("QUIT"); got != "BYE" {
		t.Fatalf("got %q", got)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	srv, addr, cancel := startTestServer(t)
	defer cancel()
	defer srv.Close()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("FROBNICATE\n")); err != nil {
		t.Fatal(err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if reply != "ERR UNKNOWN_COMMAND FROBNICATE\n" {
		t.Fatalf("got %q", reply)
	}
}
