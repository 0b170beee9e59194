//go:build linux

package afpacket

import "time"

// State is a position in the Context state machine described by §3.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	}
	return "uninitialized"
}

// Verdict is the host's disposition for one received message (§4.5).
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictBlock
	VerdictReplace
	VerdictWhitelist
	VerdictBlacklist
	VerdictIgnore
	VerdictRetry
	maxVerdict
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictBlock:
		return "block"
	case VerdictReplace:
		return "replace"
	case VerdictWhitelist:
		return "whitelist"
	case VerdictBlacklist:
		return "blacklist"
	case VerdictIgnore:
		return "ignore"
	case VerdictRetry:
		return "retry"
	}
	return "unknown"
}

// translate implements the fixed verdict translation table from §4.5:
// PASS/REPLACE/WHITELIST/IGNORE -> PASS; BLOCK/BLACKLIST/RETRY -> BLOCK;
// anything outside the known range clamps to PASS.
func (v Verdict) translate() Verdict {
	switch v {
	case VerdictBlock, VerdictBlacklist, VerdictRetry:
		return VerdictBlock
	case VerdictPass, VerdictReplace, VerdictWhitelist, VerdictIgnore:
		return VerdictPass
	default:
		return VerdictPass
	}
}

func (v Verdict) clamp() Verdict {
	if v < 0 || v >= maxVerdict {
		return VerdictPass
	}
	return v
}

// PacketHeader is the normalized per-frame header handed to the host and
// accepted back from it on Inject.
type PacketHeader struct {
	Timestamp    time.Time
	CapLen       int
	WireLen      int
	IngressIndex int
	EgressIndex  int // 0 ("unknown") when no peer exists
}

// Message is a borrowed, non-owning view of one received frame (the
// PacketDescriptor of §3). Exactly one Message may be outstanding between
// ReceiveMessage and FinalizeMessage; the reusable slot discipline is
// enforced by Context, not by Message itself.
type Message struct {
	Header PacketHeader
	Data   []byte

	inst  *Instance
	entry *Entry
}

// Capability is a bitmask of features this module advertises via
// get_capabilities.
type Capability uint32

const (
	CapBlock Capability = 1 << iota
	CapReplace
	CapInject
	CapUnprivStart
	CapBreakloop
	CapBPF
	CapDeviceIndex
)

// DatalinkType is the link type advertised by get_datalink_type. Only
// Ethernet is supported (§1 Non-goals).
const DatalinkType = 1 // DLT_EN10MB

const allCapabilities = CapBlock | CapReplace | CapInject | CapUnprivStart |
	CapBreakloop | CapBPF | CapDeviceIndex

// Stats mirrors the fields named by §4.7.
type Stats struct {
	HWPacketsReceived uint64
	HWPacketsDropped  uint64
	PacketsFiltered   uint64
	PacketsInjected   uint64
	Verdicts          [maxVerdict]uint64
}

// FanoutType maps to the kernel's PACKET_FANOUT_* constants.
type FanoutType int

// FanoutFlag maps to the kernel's PACKET_FANOUT_FLAG_* bits.
type FanoutFlag int

// FanoutConfig is the parsed form of the fanout_type/fanout_flag config
// keys, applied per instance at Start (§4.3 step 8).
type FanoutConfig struct {
	Type  FanoutType
	Flags FanoutFlag
}

// VariableDesc documents one recognized configuration key, returned by
// get_variable_descs.
type VariableDesc struct {
	Name        string
	Description string
	HasArg      bool
}
