//go:build linux

package afpacket

// collectHWStats implements the hardware half of §4.7: drain every
// instance's PACKET_STATISTICS counters and fold them into c.stats,
// correcting for the kernel quirk where tp_packets already includes
// tp_drops. Each instance's own running drop total is kept alongside the
// context-wide aggregate so a host can report per-interface ring drops
// (e.g. next to ifacestat's NIC-level counters) instead of only the sum.
func (c *Context) collectHWStats() error {
	for _, inst := range c.instances {
		packets, drops, err := inst.hwStats()
		if err != nil {
			return newErr("collect_stats", KindOS, err)
		}
		inst.dropped += uint64(drops)
		c.stats.HWPacketsReceived += uint64(packets - drops)
		c.stats.HWPacketsDropped += uint64(drops)
	}
	return nil
}

// RingDropsByName implements the per-interface half of get_stats: it drains
// fresh hardware counters the same way Stats does, then returns each
// instance's cumulative PACKET_STATISTICS drop count keyed by device name.
func (c *Context) RingDropsByName() map[string]uint64 {
	_ = c.collectHWStats()
	out := make(map[string]uint64, len(c.instances))
	for _, inst := range c.instances {
		out[inst.name] = inst.dropped
	}
	return out
}

// Stats implements get_stats: drain fresh hardware counters into the
// running totals, then return a copy of the aggregate.
func (c *Context) Stats() Stats {
	_ = c.collectHWStats()
	return c.stats
}

// ResetStats implements reset_stats: zero the aggregate and drain (and
// discard) every instance's kernel counters so the next get_stats reflects
// only events after this call.
func (c *Context) ResetStats() {
	for _, inst := range c.instances {
		_, _, _ = inst.hwStats()
		inst.dropped = 0
	}
	c.stats = Stats{}
}

// CheckStatus implements check_status.
func (c *Context) CheckStatus() State {
	return c.state
}

// Snaplen implements get_snaplen.
func (c *Context) Snaplen() int {
	return c.snaplen
}

// Capabilities implements get_capabilities.
func (c *Context) Capabilities() Capability {
	return allCapabilities
}

// DatalinkType implements get_datalink_type. Only Ethernet is supported.
func (c *Context) DatalinkType() int {
	return DatalinkType
}

// DeviceIndex implements get_device_index.
func (c *Context) DeviceIndex(name string) (int, error) {
	for _, inst := range c.instances {
		if inst.name == name {
			return inst.ifindex, nil
		}
	}
	return 0, newErr("get_device_index", KindNoDevice, nil)
}

// Errbuf implements get_errbuf: the bounded, last-writer-wins message
// describing the most recent error on this context.
func (c *Context) Errbuf() string {
	return c.errbuf.String()
}
