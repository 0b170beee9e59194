//go:build linux

package afpacket

import "golang.org/x/net/bpf"

// CompiledFilter is the "filter(program, data, wire_len, cap_len) -> bool"
// interface named in §1. Compilation itself — turning a textual expression
// into a program — is an external collaborator's responsibility, consumed
// through HostCapabilities.CompileFilter; this interface is only the
// evaluation boundary the receive engine calls on every captured frame.
type CompiledFilter interface {
	// Apply reports whether the frame should be accepted. wireLen and capLen
	// mirror tp_len/tp_snaplen as the BPF ABI expects them.
	Apply(data []byte, wireLen, capLen int) bool
}

// RawBPFFilter evaluates a classic BPF (cBPF) program assembled from
// golang.org/x/net/bpf.RawInstruction — the shape a real expression compiler
// hands back (e.g. via libpcap/sfbpf bindings), and the same program
// representation other_examples/csulrong-gopacket__afpacket.go installs with
// SO_ATTACH_FILTER and other_examples/fako1024-slimcap__afring.go carries as
// extraBPFInstr. Using golang.org/x/net/bpf's VM to execute the program
// keeps this module cgo-free while still running a real cBPF bytecode
// interpreter instead of hand-rolling one.
type RawBPFFilter struct {
	vm *bpf.VM
}

// NewRawBPFFilter builds a VM from program. It is not itself a
// HostCapabilities.CompileFilter: a host's CompileFilter turns an expression
// into raw instructions and can return the result of this constructor, as
// cmd/bridge's compileSimpleFilter does.
func NewRawBPFFilter(program []bpf.RawInstruction) (*RawBPFFilter, error) {
	insts, _ := bpf.Disassemble(program)
	vm, err := bpf.NewVM(insts)
	if err != nil {
		return nil, newErr("compile_filter", KindFilter, err)
	}
	return &RawBPFFilter{vm: vm}, nil
}

// Apply runs the program against data. Classic BPF programs are written
// against the full wire-length packet; captured bytes beyond capLen are
// conceptually zero, so Apply truncates data to capLen before running and
// treats a non-zero VM return value as "accept".
func (f *RawBPFFilter) Apply(data []byte, wireLen, capLen int) bool {
	if capLen < len(data) {
		data = data[:capLen]
	}
	n, err := f.vm.Run(data)
	if err != nil {
		return false
	}
	return n > 0
}

// HostCapabilities is the "base_api" a host supplies at Prepare (§6): the
// set of collaborators the core consumes but does not implement itself.
type HostCapabilities struct {
	// CompileFilter turns a textual BPF expression into a CompiledFilter.
	// Required only if SetFilter is ever called; nil is legal otherwise.
	CompileFilter func(snaplen, datalinkType int, expr string) (CompiledFilter, error)
}
