package switchboard

import (
	"net"
	"testing"
	"time"
)

func TestOnDemandReserveAndAccept(t *testing.T) {
	sb, err := New(OnDemand, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Stop()

	r, err := sb.Reserve("session-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if r.Port == 0 {
		t.Fatal("expected a non-zero ephemeral port")
	}

	connErr := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", r.Addr().String())
		if err == nil {
			conn.Close()
		}
		connErr <- err
	}()

	conn, err := r.Accept(2 * time.Second)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn.Close()
	if err := <-connErr; err != nil {
		t.Fatalf("dial: %v", err)
	}

	r.Release()
}

func TestPooledExhaustsAndReleases(t *testing.T) {
	// Reserve two adjacent ephemeral-ish ports by first asking the OS for
	// free ports, then rebuilding the pool against exactly those numbers.
	probe1, _ := net.Listen("tcp", ":0")
	probe2, _ := net.Listen("tcp", ":0")
	p1 := probe1.Addr().(*net.TCPAddr).Port
	p2 := probe2.Addr().(*net.TCPAddr).Port
	probe1.Close()
	probe2.Close()
	if p2 < p1 {
		p1, p2 = p2, p1
	}
	if p2 != p1+1 {
		t.Skip("kernel did not hand back adjacent ports, skipping pooled range test")
	}

	sb, err := New(Pooled, p1, p2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Stop()

	r1, err := sb.Reserve("a")
	if err != nil {
		t.Fatalf("Reserve 1: %v", err)
	}
	r2, err := sb.Reserve("b")
	if err != nil {
		t.Fatalf("Reserve 2: %v", err)
	}
	if r1.Port == r2.Port {
		t.Fatal("expected distinct ports for concurrent reservations")
	}

	if _, err := sb.Reserve("c"); err != ErrNoPortsAvailable {
		t.Fatalf("expected ErrNoPortsAvailable once pool is exhausted, got %v", err)
	}

	r1.Release()
	if _, err := sb.Reserve("d"); err != nil {
		t.Fatalf("expected a port to be free after Release, got %v", err)
	}
}

func TestPooledRequiresExplicitRange(t *testing.T) {
	if _, err := New(Pooled, 0, 0); err == nil {
		t.Fatal("expected an error constructing a Pooled switchboard with no port range")
	}
}

func TestScavengeReclaimsAbandonedReservation(t *testing.T) {
	probe, _ := net.Listen("tcp", ":0")
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	sb, err := New(Pooled, port, port)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sb.Stop()

	if _, err := sb.Reserve("abandoned"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	sb.scavenge(0) // simulate the reservation having aged past any timeout

	if _, err := sb.Reserve("someone-else"); err != nil {
		t.Fatalf("expected scavenge to free the port, got %v", err)
	}
}
