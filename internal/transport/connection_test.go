package transport

import (
	"testing"
	"time"
)

func TestResolveEndpoint_NonLocalhost(t *testing.T) {
	host, port, isLocalhost, err := ResolveEndpoint("203.0.113.5:9000")
	if err != nil {
		t.Fatalf("ResolveEndpoint() error = %v", err)
	}
	if host != "203.0.113.5" || port != "9000" {
		t.Errorf("ResolveEndpoint() = (%s, %s), want (203.0.113.5, 9000)", host, port)
	}
	if isLocalhost {
		t.Error("ResolveEndpoint() isLocalhost = true for a non-localhost host")
	}
}

func TestResolveEndpoint_LocalhostRewrite(t *testing.T) {
	host, port, isLocalhost, err := ResolveEndpoint("localhost:9000")
	if err != nil {
		t.Skipf("no outward route available in this environment: %v", err)
	}
	if port != "9000" {
		t.Errorf("ResolveEndpoint() port = %s, want 9000", port)
	}
	if !isLocalhost {
		t.Error("ResolveEndpoint() isLocalhost = false for a localhost host")
	}
	if host == "localhost" {
		t.Error("ResolveEndpoint() did not rewrite the localhost host")
	}
}

func TestDialListenAccept_RoundTrip(t *testing.T) {
	acceptor, err := Listen(0)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer acceptor.Close()

	addr := acceptor.Addr().String()

	acceptResult := make(chan *Info, 1)
	acceptErr := make(chan error, 1)
	go func() {
		info, err := acceptor.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		acceptResult <- info
	}()

	dialInfo, err := Dial(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer dialInfo.Guard.Close()

	if dialInfo.Inbound {
		t.Error("Dial() produced Inbound = true")
	}

	select {
	case info := <-acceptResult:
		defer info.Guard.Close()
		if !info.Inbound {
			t.Error("Accept() produced Inbound = false")
		}
	case err := <-acceptErr:
		t.Fatalf("Accept() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept()")
	}
}
