//go:build linux

package afpacket

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

const maxInterfaces = 32

// BridgePair is one bidirectional forwarding tap: two interfaces mutually
// set as each other's peer.
type BridgePair struct {
	A, B string
}

// DeviceSpec is the parsed form of a device specification string (§6): in
// passive mode a flat list of interfaces to observe, in non-passive mode an
// ordered list of bridge pairs to forward between.
type DeviceSpec struct {
	Passive   bool
	Passives  []string
	Bridges   []BridgePair
}

// parseDeviceSpec implements the grammar of §6: interfaces are colon
// separated; a leading or trailing colon is invalid; "::" is a bridge-pair
// separator allowed only outside passive mode; passive mode forbids it
// entirely; non-passive mode requires an even interface count.
func parseDeviceSpec(spec string, passive bool) (DeviceSpec, error) {
	if spec == "" || strings.HasPrefix(spec, ":") || strings.HasSuffix(spec, ":") {
		return DeviceSpec{}, newErr("parse_device_spec", KindConfig, fmt.Errorf("malformed device spec %q", spec))
	}

	if passive {
		if strings.Contains(spec, "::") {
			return DeviceSpec{}, newErr("parse_device_spec", KindConfig, fmt.Errorf("passive mode forbids '::' in %q", spec))
		}
		names := strings.Split(spec, ":")
		if err := validateNames(names); err != nil {
			return DeviceSpec{}, err
		}
		return DeviceSpec{Passive: true, Passives: names}, nil
	}

	groups := strings.Split(spec, "::")
	var names []string
	var pairBoundaries []int
	for _, g := range groups {
		part := strings.Split(g, ":")
		names = append(names, part...)
		pairBoundaries = append(pairBoundaries, len(part))
	}
	if err := validateNames(names); err != nil {
		return DeviceSpec{}, err
	}
	if len(names)%2 != 0 {
		return DeviceSpec{}, newErr("parse_device_spec", KindConfig, fmt.Errorf("non-passive device spec %q has an unpaired interface", spec))
	}

	var bridges []BridgePair
	i := 0
	for _, n := range pairBoundaries {
		group := names[i : i+n]
		i += n
		for j := 0; j+1 < len(group); j += 2 {
			bridges = append(bridges, BridgePair{A: group[j], B: group[j+1]})
		}
	}
	return DeviceSpec{Bridges: bridges}, nil
}

func validateNames(names []string) error {
	if len(names) == 0 || len(names) > maxInterfaces {
		return newErr("parse_device_spec", KindConfig, fmt.Errorf("expected 1-%d interfaces, got %d", maxInterfaces, len(names)))
	}
	for _, n := range names {
		if n == "" {
			return newErr("parse_device_spec", KindConfig, fmt.Errorf("empty interface name"))
		}
		if len(n) >= unix.IFNAMSIZ {
			return newErr("parse_device_spec", KindConfig, fmt.Errorf("interface name %q exceeds IFNAMSIZ-1", n))
		}
	}
	return nil
}

// wireBridges creates one Instance per name referenced by spec and, for
// non-passive specs, sets each pair's peer back-reference (C4). Interfaces
// referenced by more than one pair are created once and shared.
func wireBridges(spec DeviceSpec) ([]*Instance, error) {
	byName := make(map[string]*Instance)

	get := func(name string) (*Instance, error) {
		if inst, ok := byName[name]; ok {
			return inst, nil
		}
		inst, err := newInstance(name)
		if err != nil {
			return nil, err
		}
		byName[name] = inst
		return inst, nil
	}

	if spec.Passive {
		for _, name := range spec.Passives {
			if _, err := get(name); err != nil {
				teardownAll(byName)
				return nil, err
			}
		}
	} else {
		for _, pair := range spec.Bridges {
			a, err := get(pair.A)
			if err != nil {
				teardownAll(byName)
				return nil, err
			}
			b, err := get(pair.B)
			if err != nil {
				teardownAll(byName)
				return nil, err
			}
			a.peer, b.peer = b, a
		}
	}

	instances := make([]*Instance, 0, len(byName))
	for _, inst := range byName {
		instances = append(instances, inst)
	}
	return instances, nil
}

func teardownAll(byName map[string]*Instance) {
	for _, inst := range byName {
		inst.teardown()
	}
}
