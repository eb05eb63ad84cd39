package proxy

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestNewHTTPClientDirect(t *testing.T) {
	c, err := NewHTTPClient("", 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if c.Transport != nil || c.Timeout != 3*time.Second {
		t.Errorf("direct client = %+v", c)
	}
}

func TestNewHTTPClientDialsProxy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	greeted := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 3)
		n, _ := conn.Read(buf)
		greeted <- buf[:n]
	}()

	c, err := NewHTTPClient(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://api.example.com/", nil)
	c.Do(req)

	select {
	case g := <-greeted:
		// SOCKS5 greeting: version 5, one method, no auth
		if len(g) < 1 || g[0] != 0x05 {
			t.Errorf("greeting = %v, want SOCKS5", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proxy was never dialed")
	}
}
