//go:build linux

package afpacket

import (
	"errors"
	"testing"
)

func TestStatsCounters(t *testing.T) {
	c := &Context{state: StateStarted, snaplen: 2048}

	c.stats.PacketsFiltered = 3
	c.stats.Verdicts[VerdictBlock] = 2

	got := c.Stats()
	if got.PacketsFiltered != 3 || got.Verdicts[VerdictBlock] != 2 {
		t.Fatalf("Stats() = %+v", got)
	}

	c.ResetStats()
	if c.stats != (Stats{}) {
		t.Fatalf("ResetStats left non-zero stats: %+v", c.stats)
	}
}

func TestCheckStatusAndSnaplen(t *testing.T) {
	c := &Context{state: StateStarted, snaplen: 1500}
	if got := c.CheckStatus(); got != StateStarted {
		t.Fatalf("CheckStatus() = %v, want %v", got, StateStarted)
	}
	if got := c.Snaplen(); got != 1500 {
		t.Fatalf("Snaplen() = %d, want 1500", got)
	}
}

func TestCapabilitiesAdvertisesEverySupportedFeature(t *testing.T) {
	c := &Context{}
	caps := c.Capabilities()
	for _, want := range []Capability{
		CapBlock, CapReplace, CapInject, CapUnprivStart, CapBreakloop, CapBPF, CapDeviceIndex,
	} {
		if caps&want == 0 {
			t.Errorf("Capabilities() missing %v", want)
		}
	}
}

func TestDeviceIndexUnknownName(t *testing.T) {
	c := &Context{instances: []*Instance{{name: "eth0", ifindex: 2}}}

	idx, err := c.DeviceIndex("eth0")
	if err != nil || idx != 2 {
		t.Fatalf("DeviceIndex(eth0) = (%d, %v), want (2, nil)", idx, err)
	}

	_, err = c.DeviceIndex("ethX")
	var afErr *Error
	if !errors.As(err, &afErr) || afErr.Kind != KindNoDevice {
		t.Fatalf("DeviceIndex(ethX) err = %v, want KindNoDevice", err)
	}
}

func TestErrbufReflectsMostRecentError(t *testing.T) {
	c := &Context{}
	if got := c.Errbuf(); got != "" {
		t.Fatalf("Errbuf() on fresh context = %q, want empty", got)
	}
	c.errbuf.set(newErr("set_filter", KindFilter, errors.New("boom")))
	if got := c.Errbuf(); got == "" {
		t.Fatal("Errbuf() empty after set()")
	}
}
