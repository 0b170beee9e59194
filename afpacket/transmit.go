//go:build linux

package afpacket

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// transmit implements C6: enqueue data onto egress's TX ring if it has one,
// otherwise fall back to a plain sendto. It returns ErrAgain when the TX
// ring has no available slot right now — the caller decides whether that's
// fatal (Inject) or merely best-effort (engine forwarding).
func transmit(egress *Instance, data []byte) error {
	if egress.tx != nil {
		return transmitRing(egress, data)
	}
	return transmitPlain(egress, data)
}

func transmitRing(egress *Instance, data []byte) error {
	ring := egress.tx
	entry := ring.entry(ring.cursor)

	if entry.statusLoad() != unix.TP_STATUS_AVAILABLE {
		return ErrAgain
	}

	hdrOff := align(egress.hdrLen, tpacketAlignment)
	frameSize := ring.layout.frameSize
	buf := unsafe.Slice((*byte)(entry.raw), frameSize)
	n := copy(buf[hdrOff:], data)

	h := entry.hdr2()
	h.Len = uint32(n)
	h.Snaplen = uint32(n)
	entry.statusStore(unix.TP_STATUS_SEND_REQUEST)

	ring.cursor = entry.next

	if err := kickSend(egress.fd); err != nil {
		return newErr("transmit", KindOS, err)
	}
	return nil
}

func transmitPlain(egress *Instance, data []byte) error {
	if len(data) >= 14 {
		egress.srcAddr.Protocol = binary.BigEndian.Uint16(data[12:14])
	}
	if err := unix.Sendto(egress.fd, data, 0, &egress.srcAddr); err != nil {
		return newErr("transmit", KindOS, err)
	}
	return nil
}

// kickSend wakes the kernel up to drain TP_STATUS_SEND_REQUEST slots, the
// same zero-length sendto kick the original issues after queuing a TX
// descriptor. A raw syscall is used here, matching afxdp.go's wakeupTxQueue,
// because unix.Sendto requires a non-nil payload buffer.
func kickSend(fd int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SENDTO, uintptr(fd), 0, 0, uintptr(unix.MSG_DONTWAIT), 0, 0)
	if errno != 0 && errno != unix.EAGAIN {
		return errno
	}
	return nil
}

// Inject implements the externally invoked inject operation (§4.6):
// locate the instance whose ifindex equals hdr.IngressIndex, choose it when
// reverse is true, otherwise its peer, and transmit data through it.
func (c *Context) Inject(hdr PacketHeader, data []byte, reverse bool) error {
	inst := c.instanceByIfindex(hdr.IngressIndex)
	if inst == nil {
		return newErr("inject", KindNoDevice, nil)
	}

	target := inst
	if !reverse {
		target = inst.peer
	}
	if target == nil {
		return newErr("inject", KindNoDevice, nil)
	}

	if err := transmit(target, data); err != nil {
		c.errbuf.set(err)
		return err
	}
	c.stats.PacketsInjected++
	return nil
}

func (c *Context) instanceByIfindex(ifindex int) *Instance {
	for _, inst := range c.instances {
		if inst.ifindex == ifindex {
			return inst
		}
	}
	return nil
}
