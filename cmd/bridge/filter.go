//go:build linux

package main

import (
	"fmt"
	"strings"

	"golang.org/x/net/bpf"

	"github.com/kallidar/afpacket-bridge/afpacket"
)

// compileSimpleFilter is this example host's HostCapabilities.CompileFilter:
// a handful of hard-coded keyword programs, assembled into real classic BPF
// bytecode with golang.org/x/net/bpf and executed by afpacket.RawBPFFilter.
// It is not a general BPF expression compiler — that remains an external
// collaborator's responsibility per the module's scope — just enough of one
// to make this binary runnable end to end without a libpcap dependency.
func compileSimpleFilter(snaplen, datalinkType int, expr string) (afpacket.CompiledFilter, error) {
	_ = snaplen
	_ = datalinkType

	var program []bpf.Instruction
	switch strings.TrimSpace(expr) {
	case "", "ip":
		program = []bpf.Instruction{bpf.RetConstant{Val: 0xffff}}
	case "tcp":
		program = ipProtoProgram(6)
	case "udp":
		program = ipProtoProgram(17)
	case "icmp":
		program = ipProtoProgram(1)
	default:
		return nil, fmt.Errorf("unsupported filter expression %q", expr)
	}

	raw, err := bpf.Assemble(program)
	if err != nil {
		return nil, fmt.Errorf("assembling filter program: %w", err)
	}
	return afpacket.NewRawBPFFilter(raw)
}

// ipProtoProgram builds: accept IPv4 frames whose protocol field equals
// proto, reject everything else.
func ipProtoProgram(proto uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                                    // EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipTrue: 0, SkipFalse: 3}, // IPv4?
		bpf.LoadAbsolute{Off: 23, Size: 1},                                    // IP protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: proto, SkipTrue: 0, SkipFalse: 1},
		bpf.RetConstant{Val: 0xffff},
		bpf.RetConstant{Val: 0},
	}
}
