//go:build linux

package afpacket

import (
	"testing"

	"golang.org/x/sys/unix"
)

// TestTeardownRingsLeavesSocketOpen guards the start -> stop -> start
// round-trip property of spec §8: Stop must release ring/mmap state without
// closing the instance's socket, since Context never re-opens or re-binds a
// socket after the one wireBridges call in Initialize. A Stop that closed
// the fd would make every subsequent Start fail negotiateRing with EBADF
// instead of retrying on ENOMEM.
func TestTeardownRingsLeavesSocketOpen(t *testing.T) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}

	const size = 4096
	mapped, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		unix.Close(fd)
		t.Fatalf("mmap: %v", err)
	}

	inst := &Instance{
		fd:     fd,
		mapped: mapped,
		rx:     &Ring{kind: RingRX, region: mapped},
	}

	inst.teardownRings()

	if inst.mapped != nil || inst.rx != nil || inst.tx != nil {
		t.Fatalf("teardownRings left ring state: mapped=%v rx=%v tx=%v", inst.mapped, inst.rx, inst.tx)
	}
	if inst.fd != fd || inst.fd < 0 {
		t.Fatalf("teardownRings closed or mutated the socket fd: %d, want %d still open", inst.fd, fd)
	}
	if err := unix.Fsync(inst.fd); err == unix.EBADF {
		t.Fatal("socket fd was closed by teardownRings")
	}

	inst.teardown()
	if inst.fd >= 0 {
		t.Fatalf("teardown left fd = %d, want -1 after full teardown", inst.fd)
	}
}
