//go:build linux

package afpacket

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

const (
	FanoutHash     FanoutType = unix.PACKET_FANOUT_HASH
	FanoutLB       FanoutType = unix.PACKET_FANOUT_LB
	FanoutCPU      FanoutType = unix.PACKET_FANOUT_CPU
	FanoutRollover FanoutType = unix.PACKET_FANOUT_ROLLOVER
	FanoutRandom   FanoutType = unix.PACKET_FANOUT_RND
	FanoutQM       FanoutType = unix.PACKET_FANOUT_QM
)

const (
	FanoutFlagRollover FanoutFlag = unix.PACKET_FANOUT_FLAG_ROLLOVER
	FanoutFlagDefrag   FanoutFlag = unix.PACKET_FANOUT_FLAG_DEFRAG
)

// defaultBufferMB is the fallback total packet buffer size, in megabytes,
// when buffer_size_mb is unset and AF_PACKET_BUFFER_SIZE is also unset.
const defaultBufferMB = 128

// bufferSizeEnv is the environment variable fallback named by §6 for
// buffer_size_mb.
const bufferSizeEnv = "AF_PACKET_BUFFER_SIZE"

// Config is the key-value option bag accepted by Initialize (§6). Extra can
// carry host-supplied options that have no explicit field; this module
// neither fills nor reads it, and it is not loaded from YAML.
type Config struct {
	DeviceSpec string `yaml:"device"`
	Passive    bool   `yaml:"passive"`
	Snaplen    int    `yaml:"snaplen"`
	TimeoutMS  int    `yaml:"timeout_ms"`

	BufferSizeMB string     `yaml:"buffer_size_mb"`
	Debug        bool       `yaml:"debug"`
	FanoutType   string     `yaml:"fanout_type"`
	FanoutFlag   string     `yaml:"fanout_flag"`

	Extra map[string]string `yaml:"-"`
}

// resolveBufferBytes implements the buffer_size_mb fallback chain of §6:
// explicit config value (decimal megabytes, or the literal "max") ->
// AF_PACKET_BUFFER_SIZE environment variable -> default 128MB.
func (c Config) resolveBufferBytes() (int, error) {
	raw := c.BufferSizeMB
	if raw == "" {
		raw = os.Getenv(bufferSizeEnv)
	}
	if raw == "" || raw == "max" {
		return defaultBufferMB * 1024 * 1024, nil
	}
	mb, err := strconv.Atoi(raw)
	if err != nil || mb <= 0 {
		return 0, newErr("resolve_buffer_size", KindConfig, fmt.Errorf("invalid buffer_size_mb %q", raw))
	}
	return mb * 1024 * 1024, nil
}

func (c Config) resolveFanout() (FanoutConfig, error) {
	var fc FanoutConfig
	switch c.FanoutType {
	case "":
	case "hash":
		fc.Type = FanoutHash
	case "lb":
		fc.Type = FanoutLB
	case "cpu":
		fc.Type = FanoutCPU
	case "rollover":
		fc.Type = FanoutRollover
	case "rnd":
		fc.Type = FanoutRandom
	case "qm":
		fc.Type = FanoutQM
	default:
		return fc, newErr("resolve_fanout", KindConfig, fmt.Errorf("unknown fanout_type %q", c.FanoutType))
	}
	switch c.FanoutFlag {
	case "":
	case "rollover":
		fc.Flags = FanoutFlagRollover
	case "defrag":
		fc.Flags = FanoutFlagDefrag
	default:
		return fc, newErr("resolve_fanout", KindConfig, fmt.Errorf("unknown fanout_flag %q", c.FanoutFlag))
	}
	return fc, nil
}

// VariableDescs returns the configuration keys this module recognizes,
// implementing get_variable_descs.
func VariableDescs() []VariableDesc {
	return []VariableDesc{
		{Name: "buffer_size_mb", Description: "total packet ring memory budget in megabytes, or 'max'", HasArg: true},
		{Name: "debug", Description: "enable diagnostic logging", HasArg: false},
		{Name: "fanout_type", Description: "one of hash, lb, cpu, rollover, rnd, qm", HasArg: true},
		{Name: "fanout_flag", Description: "one of rollover, defrag", HasArg: true},
	}
}

// Prepare validates that the host has supplied the capabilities this module
// needs before Initialize is called. It is a package-level operation,
// matching the module-level prepare(base_api) entry of §6's operation table.
func Prepare(caps HostCapabilities) error {
	// Every capability in HostCapabilities is optional at this layer: a
	// host that never calls SetFilter never needs CompileFilter. Prepare
	// exists as a named extension point so hosts requiring stricter
	// validation have somewhere to put it; there is nothing to reject today.
	_ = caps
	return nil
}
