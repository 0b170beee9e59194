//go:build linux

package afpacket

import "golang.org/x/sys/unix"

// tpacketAlignment is TPACKET_ALIGNMENT as defined by the kernel's
// <linux/if_packet.h>; it is not re-exported by golang.org/x/sys/unix so we
// carry the constant ourselves, same as urbanishimwe's tpacket_linux.go does
// for its own alignVals helper.
const tpacketAlignment = 16

const (
	ethAddrLen = 6  // ETH_ALEN
	ethHdrLen  = 14 // ETH_HLEN
	vlanTagLen = 4  // size of a reinserted 802.1Q tag
)

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}

// ringLayout is the result of the Ring Layout Planner (component C2): the
// frame/block dimensions a ring must be fabricated with to hold approximately
// budget bytes of snaplen-capped frames.
type ringLayout struct {
	frameSize       int
	blockSize       int
	framesPerBlock  int
	frameCount      int
	blockCount      int
	netOffset       int // offset of the network-layer header from the frame start; the Ethernet header begins ethHdrLen bytes earlier
}

// planLayout derives a ringLayout from a snaplen, a per-ring byte budget, the
// kernel-reported TPACKET_V2 header length and a starting allocation order.
// It is pure and side-effect free so the retry loop in negotiateRing can call
// it repeatedly at decreasing orders without touching the kernel.
func planLayout(snaplen, budget, hdrLen, pageSize, order int) (ringLayout, error) {
	if snaplen <= 0 || budget <= 0 {
		return ringLayout{}, newErr("plan_layout", KindConfig, nil)
	}

	hdrSLL := align(hdrLen, tpacketAlignment) + unix.SizeofSockaddrLinklayer
	netOff := align(hdrSLL+ethHdrLen, tpacketAlignment) + vlanTagLen
	frameSize := align(netOff-ethHdrLen+snaplen, tpacketAlignment)

	blockSize := pageSize << order
	for blockSize < frameSize {
		blockSize <<= 1
	}

	framesPerBlock := blockSize / frameSize
	if framesPerBlock == 0 {
		return ringLayout{}, newErr("plan_layout", KindOutOfMemory, nil)
	}

	frameCount := budget / frameSize
	blockCount := frameCount / framesPerBlock
	if blockCount == 0 {
		return ringLayout{}, newErr("plan_layout", KindOutOfMemory, nil)
	}
	frameCount = blockCount * framesPerBlock

	return ringLayout{
		frameSize:      frameSize,
		blockSize:      blockSize,
		framesPerBlock: framesPerBlock,
		frameCount:     frameCount,
		blockCount:     blockCount,
		netOffset:      netOff,
	}, nil
}

func (l ringLayout) totalSize() int {
	return l.blockSize * l.blockCount
}
