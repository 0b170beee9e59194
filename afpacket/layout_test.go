//go:build linux

package afpacket

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// tpacket2HdrLen stands in for the kernel-reported PACKET_HDRLEN value used
// throughout these tests; the real value is queried from the kernel at
// runtime and isn't something a unit test can assert against.
const tpacket2HdrLen = 32

func TestPlanLayoutBoundary(t *testing.T) {
	// Boundary scenario 1: snaplen=1500, budget=1MB, page=4096.
	const pageSize = 4096
	layout, err := planLayout(1500, 1<<20, tpacket2HdrLen, pageSize, defaultOrder)
	if err != nil {
		t.Fatalf("planLayout: %v", err)
	}

	if layout.blockSize < layout.frameSize {
		t.Fatalf("block_size %d smaller than frame_size %d", layout.blockSize, layout.frameSize)
	}
	if layout.blockSize%pageSize != 0 {
		t.Fatalf("block_size %d not a multiple of page size %d", layout.blockSize, pageSize)
	}
	if got, want := layout.blockCount*layout.framesPerBlock, layout.frameCount; got != want {
		t.Fatalf("block_count*frames_per_block = %d, want frame_count %d", got, want)
	}

	hdrSLL := align(tpacket2HdrLen, tpacketAlignment) + unix.SizeofSockaddrLinklayer
	netOff := align(hdrSLL+ethHdrLen, tpacketAlignment) + vlanTagLen
	wantFrameSize := align(netOff-ethHdrLen+1500, tpacketAlignment)
	if layout.frameSize != wantFrameSize {
		t.Fatalf("frame_size = %d, want %d", layout.frameSize, wantFrameSize)
	}
}

func TestPlanLayoutOrderRetryShrinksBlockSize(t *testing.T) {
	// Boundary scenario 2 (order retry): a lower order must never produce a
	// larger block size than a higher one for the same inputs.
	const pageSize = 4096
	hi, err := planLayout(1500, 1<<20, tpacket2HdrLen, pageSize, 3)
	if err != nil {
		t.Fatalf("planLayout(order=3): %v", err)
	}
	lo, err := planLayout(1500, 1<<20, tpacket2HdrLen, pageSize, 0)
	if err != nil {
		t.Fatalf("planLayout(order=0): %v", err)
	}
	if lo.blockSize > hi.blockSize {
		t.Fatalf("order 0 block_size %d larger than order 3 block_size %d", lo.blockSize, hi.blockSize)
	}
}

func TestPlanLayoutRejectsZeroBudget(t *testing.T) {
	if _, err := planLayout(1500, 0, tpacket2HdrLen, 4096, defaultOrder); err == nil {
		t.Fatal("expected error for zero budget")
	}
}

func TestPlanLayoutRejectsFramesLargerThanBudget(t *testing.T) {
	// A budget smaller than a single frame must fail with OutOfMemory, not
	// silently produce a zero-frame ring.
	_, err := planLayout(65000, 1024, tpacket2HdrLen, 4096, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	var afErr *Error
	if !errors.As(err, &afErr) || afErr.Kind != KindOutOfMemory {
		t.Fatalf("got %v, want KindOutOfMemory", err)
	}
}
