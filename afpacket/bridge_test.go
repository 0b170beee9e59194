//go:build linux

package afpacket

import "testing"

func TestParseDeviceSpecPassive(t *testing.T) {
	spec, err := parseDeviceSpec("eth0:eth1:eth2", true)
	if err != nil {
		t.Fatalf("parseDeviceSpec: %v", err)
	}
	if !spec.Passive || len(spec.Passives) != 3 {
		t.Fatalf("got %+v", spec)
	}
}

func TestParseDeviceSpecPassiveRejectsDoubleColon(t *testing.T) {
	if _, err := parseDeviceSpec("eth0::eth1", true); err == nil {
		t.Fatal("expected error: '::' forbidden in passive mode")
	}
}

func TestParseDeviceSpecBridgePairs(t *testing.T) {
	spec, err := parseDeviceSpec("eth0:eth1::eth2:eth3", false)
	if err != nil {
		t.Fatalf("parseDeviceSpec: %v", err)
	}
	want := []BridgePair{{A: "eth0", B: "eth1"}, {A: "eth2", B: "eth3"}}
	if len(spec.Bridges) != len(want) {
		t.Fatalf("got %+v, want %+v", spec.Bridges, want)
	}
	for i, b := range spec.Bridges {
		if b != want[i] {
			t.Fatalf("pair %d: got %+v, want %+v", i, b, want[i])
		}
	}
}

func TestParseDeviceSpecRejectsUnpairedInterface(t *testing.T) {
	if _, err := parseDeviceSpec("eth0:eth1:eth2", false); err == nil {
		t.Fatal("expected error: odd interface count in non-passive mode")
	}
}

func TestParseDeviceSpecRejectsLeadingOrTrailingColon(t *testing.T) {
	for _, spec := range []string{":eth0", "eth0:", ""} {
		if _, err := parseDeviceSpec(spec, true); err == nil {
			t.Fatalf("parseDeviceSpec(%q): expected error", spec)
		}
	}
}

func TestParseDeviceSpecRejectsTooManyInterfaces(t *testing.T) {
	spec := ""
	for i := 0; i < maxInterfaces+1; i++ {
		if i > 0 {
			spec += ":"
		}
		spec += "eth"
	}
	if _, err := parseDeviceSpec(spec, true); err == nil {
		t.Fatal("expected error: too many interfaces")
	}
}
