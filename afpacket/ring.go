//go:build linux

package afpacket

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RingKind selects which of an instance's two rings an operation targets.
type RingKind int

const (
	RingRX RingKind = iota
	RingTX
)

func (k RingKind) String() string {
	if k == RingTX {
		return "tx"
	}
	return "rx"
}

// defaultOrder is the starting allocation order the Ring Fabricator (C3)
// negotiates at; it backs off by one on every kernel ENOMEM down to 0.
const defaultOrder = 3

// Entry is a handle over one kernel frame slot. Its raw pointer lies inside
// the instance's mapped region; ownership of the bytes it points at is
// conveyed by the TPACKET status field, never by the Go type system, so all
// access happens through statusLoad/statusStore to get the acquire/release
// ordering the shared mapping requires.
type Entry struct {
	raw  unsafe.Pointer
	next int // index of the next entry in ring order
}

func (e *Entry) hdr2() *unix.Tpacket2Hdr {
	return (*unix.Tpacket2Hdr)(e.raw)
}

func (e *Entry) statusLoad() uint32 {
	return loadStatus(&e.hdr2().Status)
}

func (e *Entry) statusStore(v uint32) {
	storeStatus(&e.hdr2().Status, v)
}

// payload returns the frame's net-data slice starting at its Ethernet
// header, honoring tp_mac as the kernel reported it.
func (e *Entry) payload(frameSize int) []byte {
	h := e.hdr2()
	mac := int(h.Mac)
	if mac < 0 || mac > frameSize {
		mac = frameSize
	}
	return unsafe.Slice((*byte)(e.raw), frameSize)[mac:]
}

// Ring is one TPACKET_V2 ring (RX or TX) belonging to an Instance: a layout
// descriptor, the slice of the instance's mapped region it occupies, and a
// circular list of Entry built over that slice.
type Ring struct {
	kind    RingKind
	layout  ringLayout
	region  []byte // slice of the instance's mmap'd region for this ring
	entries []Entry
	cursor  int // next entry index receive/transmit should inspect
}

func (r *Ring) entry(i int) *Entry { return &r.entries[i] }

// Instance is one kernel packet socket bound to one NIC (component C1): it
// owns the RX ring, an optional TX ring, the combined mmap region backing
// both, and (for in-line bridge pairs) a back-reference to its peer.
type Instance struct {
	name    string
	ifindex int
	fd      int
	hdrLen  int

	mapped []byte
	rx     *Ring
	tx     *Ring

	peer *Instance

	srcAddr unix.SockaddrLinklayer // template for plain-mode transmit

	dropped uint64 // cumulative PACKET_STATISTICS drops, for per-interface reporting
}

// newInstance performs the startup sequence of §4.3 steps 1-5: open a raw
// packet socket, resolve and bind to the device's ifindex, join the
// promiscuous multicast group, reject non-Ethernet links, and negotiate
// TPACKET_V2 with a 4-byte VLAN headroom reservation.
func newInstance(name string) (*Instance, error) {
	if len(name) == 0 || len(name) >= unix.IFNAMSIZ {
		return nil, newErr("new_instance", KindConfig, fmt.Errorf("invalid interface name %q", name))
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, newErr("socket", KindOS, err)
	}
	inst := &Instance{name: name, fd: fd}

	ifindex, err := ifaceIndex(fd, name)
	if err != nil {
		inst.closeFD()
		return nil, newErr("resolve_ifindex", KindNoDevice, err)
	}
	inst.ifindex = ifindex

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifindex,
	}); err != nil {
		inst.closeFD()
		return nil, newErr("bind", KindOS, err)
	}

	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &unix.PacketMreq{
		Ifindex: int32(ifindex),
		Type:    unix.PACKET_MR_PROMISC,
	}); err != nil {
		inst.closeFD()
		return nil, newErr("join_promisc", KindOS, err)
	}

	hatype, err := ifaceHardwareType(fd, name)
	if err != nil {
		inst.closeFD()
		return nil, newErr("get_hwtype", KindOS, err)
	}
	if hatype != unix.ARPHRD_ETHER {
		inst.closeFD()
		return nil, newErr("check_link_type", KindConfig, fmt.Errorf("%s: not an Ethernet link (arptype %d)", name, hatype))
	}

	hdrLen, err := getPacketHdrlen(fd, unix.TPACKET_V2)
	if err != nil {
		inst.closeFD()
		return nil, newErr("get_hdrlen", KindOS, err)
	}
	inst.hdrLen = hdrLen

	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V2); err != nil {
		inst.closeFD()
		return nil, newErr("set_version", KindOS, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_RESERVE, vlanTagLen); err != nil {
		inst.closeFD()
		return nil, newErr("set_reserve", KindOS, err)
	}

	copy(inst.srcAddr.Addr[:], make([]byte, 8))
	inst.srcAddr.Ifindex = ifindex
	inst.srcAddr.Halen = ethAddrLen

	return inst, nil
}

func (i *Instance) closeFD() {
	if i.fd >= 0 {
		unix.Close(i.fd)
		i.fd = -1
	}
}

// negotiateRing implements the Ring Fabricator's retry-on-ENOMEM loop (C3
// step 1): starting at defaultOrder, plan a layout and ask the kernel to
// create the ring at that layout; on ENOMEM back off one order and retry;
// an order below zero is a hard failure.
func (i *Instance) negotiateRing(kind RingKind, snaplen, budget int) (ringLayout, error) {
	pageSize := os.Getpagesize()

	opt := unix.PACKET_RX_RING
	if kind == RingTX {
		opt = unix.PACKET_TX_RING
	}

	var lastErr error
	for order := defaultOrder; order >= 0; order-- {
		layout, err := planLayout(snaplen, budget, i.hdrLen, pageSize, order)
		if err != nil {
			lastErr = err
			continue
		}

		req := unix.TpacketReq{
			Block_size: uint32(layout.blockSize),
			Block_nr:   uint32(layout.blockCount),
			Frame_size: uint32(layout.frameSize),
			Frame_nr:   uint32(layout.frameCount),
		}

		err = unix.SetsockoptTpacketReq(i.fd, unix.SOL_PACKET, opt, &req)
		if err == nil {
			return layout, nil
		}
		lastErr = err
		if err != unix.ENOMEM {
			return ringLayout{}, newErr("create_ring", KindOS, err)
		}
	}
	return ringLayout{}, newErr("create_ring", KindOutOfMemory, lastErr)
}

// mapRings implements C3 steps 2-4: after both rings (RX always, TX only for
// bridged instances) have been negotiated with the kernel, map the socket
// once with length rx.size+tx.size, slice the mapping between the two rings,
// and build each ring's circular Entry array over its slice.
func (i *Instance) mapRings(rxLayout ringLayout, haveTX bool, txLayout ringLayout) error {
	rxSize := rxLayout.totalSize()
	txSize := 0
	if haveTX {
		txSize = txLayout.totalSize()
	}

	mapped, err := unix.Mmap(i.fd, 0, rxSize+txSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return newErr("mmap", KindOS, err)
	}
	i.mapped = mapped

	i.rx = buildRing(RingRX, rxLayout, mapped[:rxSize])
	if haveTX {
		i.tx = buildRing(RingTX, txLayout, mapped[rxSize:rxSize+txSize])
	}
	return nil
}

func buildRing(kind RingKind, layout ringLayout, region []byte) *Ring {
	entries := make([]Entry, layout.frameCount)
	base := unsafe.Pointer(unsafe.SliceData(region))
	idx := 0
	for b := 0; b < layout.blockCount; b++ {
		blockOff := uintptr(b * layout.blockSize)
		for f := 0; f < layout.framesPerBlock; f++ {
			frameOff := uintptr(f * layout.frameSize)
			entries[idx] = Entry{
				raw:  unsafe.Add(base, blockOff+frameOff),
				next: (idx + 1) % layout.frameCount,
			}
			idx++
		}
	}
	return &Ring{kind: kind, layout: layout, region: region, entries: entries}
}

// setFanout joins the context-wide fanout group, per §4.3 step 8. The group
// id is supplied by the caller; Start passes the ifindex of the context's
// first instance, so every instance of one context joins the same group.
func (i *Instance) setFanout(cfg FanoutConfig, groupID int) error {
	if cfg.Type == 0 {
		return nil
	}
	arg := (int(cfg.Type)|int(cfg.Flags))<<16 | (groupID & 0xffff)
	if err := unix.SetsockoptInt(i.fd, unix.SOL_PACKET, unix.PACKET_FANOUT, arg); err != nil {
		return newErr("set_fanout", KindOS, err)
	}
	return nil
}

// hwStats drains this instance's kernel PACKET_STATISTICS counters. The
// getsockopt call atomically resets the kernel-side counters, and per a
// documented kernel quirk tp_packets includes tp_drops, so the caller must
// subtract drops to get a true "received" count.
func (i *Instance) hwStats() (packets, drops uint32, err error) {
	var st unix.TpacketStats
	packets, drops, err = getsockoptTpacketStats(i.fd, &st)
	return
}

// teardownRings releases only the ring/mmap state fabricated by Start:
// entry arrays are GC'd with the Ring structs themselves, munmap the
// region, then zero-size the kernel rings. The socket itself is left open,
// bound and promiscuous so a subsequent Start can re-fabricate rings on it
// without re-opening or re-binding — Context never re-runs wireBridges
// after Initialize, so the fd is the one thing Stop must not touch. Safe to
// call on an instance with no rings fabricated yet, and safe to call more
// than once.
func (i *Instance) teardownRings() {
	if i.mapped != nil {
		_ = unix.Munmap(i.mapped)
		i.mapped = nil
		i.rx, i.tx = nil, nil
	}
	if i.fd >= 0 {
		var zero unix.TpacketReq
		_ = unix.SetsockoptTpacketReq(i.fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &zero)
		_ = unix.SetsockoptTpacketReq(i.fd, unix.SOL_PACKET, unix.PACKET_TX_RING, &zero)
	}
}

// teardown releases everything owned by the instance, in the order §4.3's
// Shutdown demands: teardownRings first, then close the socket. It is safe
// to call on a partially constructed instance and safe to call more than
// once — repeated calls are a no-op, which is how Context avoids the
// double-free risk flagged against the original's af_packet_close path.
func (i *Instance) teardown() {
	i.teardownRings()
	if i.fd >= 0 {
		unix.Close(i.fd)
		i.fd = -1
	}
}

func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// ifreq mirrors struct ifreq from <linux/if.h>: an IFNAMSIZ name followed by
// a 16-byte union we only ever use to carry an ifindex or a sockaddr.
type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data [16]byte
}

func newIfreq(name string) ifreq {
	var r ifreq
	copy(r.name[:], name)
	return r
}

func ifaceIndex(fd int, name string) (int, error) {
	r := newIfreq(name)
	if err := ioctl(fd, unix.SIOCGIFINDEX, unsafe.Pointer(&r)); err != nil {
		return 0, err
	}
	return int(*(*int32)(unsafe.Pointer(&r.data[0]))), nil
}

func ifaceHardwareType(fd int, name string) (uint16, error) {
	r := newIfreq(name)
	if err := ioctl(fd, unix.SIOCGIFHWADDR, unsafe.Pointer(&r)); err != nil {
		return 0, err
	}
	return *(*uint16)(unsafe.Pointer(&r.data[0])), nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// getPacketHdrlen wraps getsockopt(PACKET_HDRLEN), which unlike most
// getsockopts takes an input: optval must hold the TPACKET version being
// queried, and the kernel overwrites it with that version's header length.
// golang.org/x/sys/unix has no typed wrapper for this in/out shape, so this
// is a direct raw syscall in the same style as the teacher's own
// setsockopt/getsockopt helpers in afxdp.go.
func getPacketHdrlen(fd, version int) (int, error) {
	val := uint32(version)
	vallen := uint32(unsafe.Sizeof(val))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(unix.SOL_PACKET), uintptr(unix.PACKET_HDRLEN),
		uintptr(unsafe.Pointer(&val)), uintptr(unsafe.Pointer(&vallen)), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(val), nil
}

func getsockoptTpacketStats(fd int, st *unix.TpacketStats) (packets, drops uint32, err error) {
	vallen := uint32(unsafe.Sizeof(*st))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(unix.SOL_PACKET), uintptr(unix.PACKET_STATISTICS),
		uintptr(unsafe.Pointer(st)), uintptr(unsafe.Pointer(&vallen)), 0)
	if errno != 0 {
		return 0, 0, errno
	}
	return st.Packets, st.Drops, nil
}
