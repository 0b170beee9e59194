//go:build linux

package afpacket

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Context is the top-level aggregator described by §3: device spec,
// snaplen, poll timeout, per-ring memory budget, compiled filter, instance
// list, aggregated statistics, state, fanout configuration, break-loop flag
// and the reusable loaned-message slot.
type Context struct {
	caps HostCapabilities

	snaplen     int
	timeoutMS   int
	bufferBytes int
	fanout      FanoutConfig
	debug       bool

	instances []*Instance
	cursor    int

	state  State
	filter CompiledFilter

	stats  Stats
	loaned *Message
	errbuf errbuf

	breakLoop atomic.Bool

	logger *zap.Logger
}

// Initialize implements the module-level initialize operation (§6): parse
// the device spec, create one Instance per referenced interface, wire
// bridge peers, and transition the context to INITIALIZED. Rings are not
// fabricated yet — that happens in Start, matching §4.3's startup sequence.
func Initialize(cfg Config, caps HostCapabilities) (*Context, error) {
	if cfg.Snaplen <= 0 {
		return nil, newErr("initialize", KindConfig, nil)
	}

	bufferBytes, err := cfg.resolveBufferBytes()
	if err != nil {
		return nil, err
	}
	fanout, err := cfg.resolveFanout()
	if err != nil {
		return nil, err
	}

	spec, err := parseDeviceSpec(cfg.DeviceSpec, cfg.Passive)
	if err != nil {
		return nil, err
	}

	instances, err := wireBridges(spec)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if cfg.Debug {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}

	c := &Context{
		caps:        caps,
		snaplen:     cfg.Snaplen,
		timeoutMS:   cfg.TimeoutMS,
		bufferBytes: bufferBytes,
		fanout:      fanout,
		debug:       cfg.Debug,
		instances:   instances,
		state:       StateInitialized,
		logger:      logger,
	}
	return c, nil
}

// SetFilter implements set_filter (§6). The new program is compiled through
// HostCapabilities.CompileFilter and only swapped into c.filter after
// compilation succeeds — the original source commits the filter-string
// pointer before compiling and leaks the old program on failure; this is
// the documented fix (§9 Design Notes item 2).
func (c *Context) SetFilter(expr string) error {
	if c.caps.CompileFilter == nil {
		return newErr("set_filter", KindFilter, nil)
	}
	compiled, err := c.caps.CompileFilter(c.snaplen, DatalinkType, expr)
	if err != nil {
		wrapped := newErr("set_filter", KindFilter, err)
		c.errbuf.set(wrapped)
		return wrapped
	}
	c.filter = compiled
	return nil
}

// ringBudget divides the configured total buffer across every RX+TX ring
// in the context, per §3's invariant that individual rings are sized as
// budget/ring_count.
func (c *Context) ringBudget() int {
	rings := 0
	for _, inst := range c.instances {
		rings++
		if inst.peer != nil {
			rings++
		}
	}
	if rings == 0 {
		return c.bufferBytes
	}
	return c.bufferBytes / rings
}

// Start implements the start operation: fabricate and map every instance's
// rings, apply fanout, and transition to STARTED (§4.3).
func (c *Context) Start() error {
	if c.state != StateInitialized && c.state != StateStopped {
		return newErr("start", KindConfig, nil)
	}
	if c.instances == nil {
		// Shutdown has released every instance; the context is closed.
		return newErr("start", KindConfig, nil)
	}

	budget := c.ringBudget()
	groupID := 0
	if len(c.instances) > 0 {
		groupID = c.instances[0].ifindex
	}

	for _, inst := range c.instances {
		rxLayout, err := inst.negotiateRing(RingRX, c.snaplen, budget)
		if err != nil {
			c.unwindPartialStart()
			return err
		}

		haveTX := inst.peer != nil
		var txLayout ringLayout
		if haveTX {
			txLayout, err = inst.negotiateRing(RingTX, c.snaplen, budget)
			if err != nil {
				c.unwindPartialStart()
				return err
			}
		}

		if err := inst.mapRings(rxLayout, haveTX, txLayout); err != nil {
			c.unwindPartialStart()
			return err
		}

		if err := inst.setFanout(c.fanout, groupID); err != nil {
			c.unwindPartialStart()
			return err
		}
	}

	c.state = StateStarted
	return nil
}

// unwindPartialStart releases every instance when Start fails partway
// through, the one path in §5 allowed to unwind partially initialized
// instances.
func (c *Context) unwindPartialStart() {
	for _, inst := range c.instances {
		inst.teardown()
	}
}

// Stop implements stop: tear down every instance's rings (munmap + zero-size
// the kernel rings) and transition to STOPPED, but leave each instance's
// socket open, bound and promiscuous so a subsequent Start can re-fabricate
// rings on it directly — Context never re-runs wireBridges after Initialize,
// so there is no re-open/re-bind step for Start to perform (§8's
// "start -> stop -> start is legal").
func (c *Context) Stop() error {
	if c.state != StateStarted {
		return newErr("stop", KindConfig, nil)
	}
	for _, inst := range c.instances {
		inst.teardownRings()
	}
	c.state = StateStopped
	return nil
}

// Shutdown implements shutdown: release every instance's rings and socket
// and close the context for good. teardown (unlike Stop's teardownRings)
// also closes the fd, since Shutdown — unlike Stop — is never followed by
// another Start. Both teardownRings and teardown are individually
// idempotent, so calling Stop followed by Shutdown, or either twice, never
// double-frees anything (§9 Design Notes item 1).
func (c *Context) Shutdown() error {
	if c.state == StateStopped && c.instances == nil {
		return nil
	}
	for _, inst := range c.instances {
		inst.teardown()
	}
	c.instances = nil
	c.state = StateStopped
	_ = c.logger.Sync()
	return nil
}
