//go:build linux

package afpacket

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
)

// TestReinsertVLAN implements boundary scenario 3: the kernel delivers a
// 60-byte Ethernet frame with tp_vlan_tci=0x0064, tp_vlan_tpid=0 and
// TP_STATUS_VLAN_VALID set. After reconstruction the bytes must carry TPID
// 0x8100 and TCI 0x0064 at offset 12, with caplen and pktlen both up by 4.
func TestReinsertVLAN(t *testing.T) {
	const reserve = 8 // headroom ahead of the frame, >= vlanTagLen
	const frameLen = 60

	buf := make([]byte, reserve+frameLen)
	frame := buf[reserve:]
	for i := range frame {
		frame[i] = byte(i) // distinguishable payload so a bad shift is visible
	}
	copy(frame[0:6], []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa})   // dst MAC
	copy(frame[6:12], []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}) // src MAC

	h := &unix.Tpacket2Hdr{
		Status:    unix.TP_STATUS_VLAN_VALID,
		Vlan_tci:  0x0064,
		Vlan_tpid: 0,
	}

	dataOff := reserve
	snaplen := frameLen
	wireLen := frameLen

	if !vlanNeedsReinsertion(h) {
		t.Fatal("expected VLAN reinsertion to be needed")
	}
	reinsertVLAN(buf, h, &dataOff, &snaplen, &wireLen)

	if snaplen != frameLen+vlanTagLen {
		t.Fatalf("snaplen = %d, want %d", snaplen, frameLen+vlanTagLen)
	}
	if wireLen != frameLen+vlanTagLen {
		t.Fatalf("wireLen = %d, want %d", wireLen, frameLen+vlanTagLen)
	}

	data := buf[dataOff : dataOff+snaplen]
	if got := binary.BigEndian.Uint16(data[12:14]); got != 0x8100 {
		t.Fatalf("TPID = %#x, want 0x8100", got)
	}
	if got := binary.BigEndian.Uint16(data[14:16]); got != 0x0064 {
		t.Fatalf("TCI = %#x, want 0x0064", got)
	}
	if !equalBytes(data[0:6], []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}) {
		t.Fatalf("dst MAC corrupted: %x", data[0:6])
	}
	if !equalBytes(data[6:12], []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}) {
		t.Fatalf("src MAC corrupted: %x", data[6:12])
	}
	// Bytes after the reinserted tag must be untouched original payload,
	// starting at what was originally offset 12.
	if data[16] != frame[12] {
		t.Fatalf("payload after tag = %d, want %d (original byte at offset 12)", data[16], frame[12])
	}
}

func TestVerdictTranslate(t *testing.T) {
	cases := []struct {
		in   Verdict
		want Verdict
	}{
		{VerdictPass, VerdictPass},
		{VerdictReplace, VerdictPass},
		{VerdictWhitelist, VerdictPass},
		{VerdictIgnore, VerdictPass},
		{VerdictBlock, VerdictBlock},
		{VerdictBlacklist, VerdictBlock},
		{VerdictRetry, VerdictBlock},
	}
	for _, c := range cases {
		if got := c.in.translate(); got != c.want {
			t.Errorf("Verdict(%v).translate() = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestVerdictClampsUnknownToPass(t *testing.T) {
	if got := Verdict(999).clamp(); got != VerdictPass {
		t.Fatalf("clamp(999) = %v, want VerdictPass", got)
	}
	if got := Verdict(-1).clamp(); got != VerdictPass {
		t.Fatalf("clamp(-1) = %v, want VerdictPass", got)
	}
}

func TestFinalizeMessageRejectsForeignSlot(t *testing.T) {
	c := &Context{state: StateStarted}
	loaned := &Message{}
	c.loaned = loaned

	foreign := &Message{}
	if err := c.FinalizeMessage(foreign, VerdictPass); err == nil {
		t.Fatal("expected error finalizing a message that isn't the loaned slot")
	}
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
