//go:build linux

package afpacket

import (
	"encoding/binary"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// findNext implements the Find step of §4.5: starting at the instance right
// after the last one that yielded a frame, scan instances round-robin for a
// ring entry the kernel has marked TP_STATUS_USER.
//
// The scan start and cursor update are deliberately asymmetric: the scan
// begins at cursor+1, but on success cursor is reassigned to the winning
// instance's index, not left where the scan would naturally resume. This
// mirrors afpacket_find_packet in the original source — documented here as
// a deliberate "fairness rotating pointer" rather than normalized away.
func (c *Context) findNext() (*Instance, *Entry, bool) {
	n := len(c.instances)
	for i := 0; i < n; i++ {
		idx := (c.cursor + 1 + i) % n
		inst := c.instances[idx]
		entry := inst.rx.entry(inst.rx.cursor)
		if entry.statusLoad()&unix.TP_STATUS_USER == 0 {
			continue
		}
		inst.rx.cursor = entry.next
		c.cursor = idx
		return inst, entry, true
	}
	return nil, nil, false
}

// waitForPackets implements the Wait step of §4.5: poll every instance's fd
// for POLLIN with the context's configured timeout.
func (c *Context) waitForPackets() error {
	fds := make([]unix.PollFd, len(c.instances))
	for i, inst := range c.instances {
		fds[i] = unix.PollFd{Fd: int32(inst.fd), Events: unix.POLLIN}
	}

	n, err := unix.Poll(fds, c.timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return ErrInterrupted
		}
		return newErr("poll", KindOS, err)
	}
	if n == 0 {
		return ErrAgain
	}
	for _, fd := range fds {
		if fd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return newErr("poll", KindOS, unix.EIO)
		}
	}
	return nil
}

// ReceiveMessage implements msg_receive (§4.5, §6). It blocks until a frame
// is available, break_loop is set, or an error occurs. Exactly one Message
// may be outstanding at a time; callers must FinalizeMessage the previous
// one before calling ReceiveMessage again.
func (c *Context) ReceiveMessage() (*Message, error) {
	if c.state != StateStarted {
		return nil, newErr("receive_message", KindConfig, nil)
	}
	if c.loaned != nil {
		return nil, newErr("receive_message", KindConfig, nil)
	}

	for {
		if c.breakLoop.Load() {
			return nil, nil
		}

		inst, entry, ok := c.findNext()
		if !ok {
			if err := c.waitForPackets(); err != nil {
				if err == ErrAgain || err == ErrInterrupted {
					if c.breakLoop.Load() {
						return nil, nil
					}
					continue
				}
				c.errbuf.set(err)
				return nil, err
			}
			continue
		}

		msg, filtered, err := c.decodeAndFilter(inst, entry)
		if err != nil {
			c.errbuf.set(err)
			return nil, err
		}
		if filtered {
			continue
		}

		c.loaned = msg
		return msg, nil
	}
}

// decodeAndFilter implements the Frame decode, VLAN reconstruction and BPF
// steps of §4.5 (steps 3-5). When the frame is dropped by the filter it is
// forwarded best-effort and released, and the caller should resume the
// scan loop without handing anything to the host.
func (c *Context) decodeAndFilter(inst *Instance, entry *Entry) (*Message, bool, error) {
	h := entry.hdr2()
	frameSize := inst.rx.layout.frameSize

	mac := int(h.Mac)
	snaplen := int(h.Snaplen)
	if mac < 0 || mac+snaplen > frameSize {
		entry.statusStore(unix.TP_STATUS_KERNEL)
		return nil, false, newErr("decode_frame", KindCorruptFrame, nil)
	}

	wireLen := int(h.Len)
	ts := time.Unix(int64(h.Sec), int64(h.Nsec))

	buf := unsafe.Slice((*byte)(entry.raw), frameSize)
	dataOff := mac

	if vlanNeedsReinsertion(h) && snaplen >= 2*ethAddrLen {
		reinsertVLAN(buf, h, &dataOff, &snaplen, &wireLen)
	}

	data := buf[dataOff : dataOff+snaplen]

	egressIdx := 0
	if inst.peer != nil {
		egressIdx = inst.peer.ifindex
	}

	if c.filter != nil && !c.filter.Apply(data, wireLen, snaplen) {
		c.stats.PacketsFiltered++
		if inst.peer != nil {
			_ = transmit(inst.peer, data)
		}
		entry.statusStore(unix.TP_STATUS_KERNEL)
		return nil, true, nil
	}

	msg := &Message{
		Header: PacketHeader{
			Timestamp:    ts,
			CapLen:       snaplen,
			WireLen:      wireLen,
			IngressIndex: inst.ifindex,
			EgressIndex:  egressIdx,
		},
		Data:  data,
		inst:  inst,
		entry: entry,
	}
	return msg, false, nil
}

// vlanNeedsReinsertion decides whether a frame's VLAN tag was stripped by
// the NIC and must be rebuilt, per §4.5 step 4.
func vlanNeedsReinsertion(h *unix.Tpacket2Hdr) bool {
	if h.Vlan_tci != 0 {
		return true
	}
	return h.Status&unix.TP_STATUS_VLAN_VALID != 0
}

// reinsertVLAN implements the byte-shift VLAN reconstruction of §4.5 step 4:
// shift the two MAC addresses left by vlanTagLen into the PACKET_RESERVE
// headroom, then write a 4-byte TPID/TCI tag in their place.
func reinsertVLAN(buf []byte, h *unix.Tpacket2Hdr, dataOff, snaplen, wireLen *int) {
	off := *dataOff
	copy(buf[off-vlanTagLen:off-vlanTagLen+2*ethAddrLen], buf[off:off+2*ethAddrLen])

	tpid := uint16(0x8100)
	if h.Status&unix.TP_STATUS_VLAN_TPID_VALID != 0 && h.Vlan_tpid != 0 {
		tpid = h.Vlan_tpid
	}

	tagOff := off - vlanTagLen + 2*ethAddrLen
	binary.BigEndian.PutUint16(buf[tagOff:], tpid)
	binary.BigEndian.PutUint16(buf[tagOff+2:], h.Vlan_tci)

	*dataOff -= vlanTagLen
	*snaplen += vlanTagLen
	*wireLen += vlanTagLen
}

// FinalizeMessage implements msg_finalize (§4.5, §6): it rejects a msg that
// is not the context's currently loaned slot, clamps and counts the
// verdict, translates it to PASS/BLOCK, forwards on PASS, and unconditionally
// releases the frame back to the kernel.
func (c *Context) FinalizeMessage(msg *Message, verdict Verdict) error {
	if msg == nil || msg != c.loaned {
		return newErr("finalize_message", KindConfig, nil)
	}
	c.loaned = nil

	verdict = verdict.clamp()
	c.stats.Verdicts[verdict]++

	translated := verdict.translate()
	if translated == VerdictPass && msg.inst.peer != nil {
		_ = transmit(msg.inst.peer, msg.Data)
	}

	msg.entry.statusStore(unix.TP_STATUS_KERNEL)
	return nil
}

// BreakLoop sets the cooperative flag described in §5; the current or next
// blocking poll inside ReceiveMessage short-circuits and returns no message.
func (c *Context) BreakLoop() {
	c.breakLoop.Store(true)
}
