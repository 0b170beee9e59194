//go:build linux

package afpacket

import "fmt"

// Kind classifies the outcome of an afpacket operation so callers can branch
// on category without parsing error text.
type Kind int

const (
	// KindOther covers failures that don't fit any of the named kinds below.
	KindOther Kind = iota
	// KindConfig marks a malformed device spec, bad option value, unsupported
	// link type or an interface name that exceeds IFNAMSIZ-1.
	KindConfig
	// KindNoDevice marks an ifindex lookup or bridge endpoint that could not
	// be resolved.
	KindNoDevice
	// KindOutOfMemory marks a userspace allocation failure or a ring request
	// the kernel rejected at every retried order.
	KindOutOfMemory
	// KindOS wraps a socket/ioctl/bind/setsockopt/mmap/poll/send failure.
	// The wrapped error is the syscall errno.
	KindOS
	// KindCorruptFrame marks a ring slot reporting offsets outside its frame.
	KindCorruptFrame
	// KindAgain marks a transient condition: TX ring full, or a poll timeout
	// with no frame ready.
	KindAgain
	// KindInterrupted marks a poll wakeup by signal.
	KindInterrupted
	// KindFilter marks a BPF compilation failure.
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNoDevice:
		return "no_device"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindOS:
		return "os"
	case KindCorruptFrame:
		return "corrupt_frame"
	case KindAgain:
		return "again"
	case KindInterrupted:
		return "interrupted"
	case KindFilter:
		return "filter"
	}
	return "other"
}

// Error is the error type returned from every exported afpacket operation.
// Its Kind lets a host branch on category with errors.Is against the Err*
// sentinels below; its wrapped cause (if any) carries syscall-level detail.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("afpacket: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("afpacket: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel for e's Kind, so callers can write
// errors.Is(err, afpacket.ErrNoDevice) without caring about the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

func newErr(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Sentinels for errors.Is comparisons. None carry a wrapped cause; compare
// only the Kind.
var (
	ErrConfig       = &Error{Kind: KindConfig}
	ErrNoDevice     = &Error{Kind: KindNoDevice}
	ErrOutOfMemory  = &Error{Kind: KindOutOfMemory}
	ErrOS           = &Error{Kind: KindOS}
	ErrCorruptFrame = &Error{Kind: KindCorruptFrame}
	ErrAgain        = &Error{Kind: KindAgain}
	ErrInterrupted  = &Error{Kind: KindInterrupted}
	ErrFilter       = &Error{Kind: KindFilter}
)

// errbuf is the bounded, last-writer-wins per-context error buffer, read by
// the host through Context.Errbuf (get_errbuf). It is written only by the
// context itself; there is no host-facing setter.
type errbuf struct {
	buf [256]byte
	n   int
}

func (b *errbuf) set(err error) {
	if err == nil {
		b.n = 0
		return
	}
	s := err.Error()
	if len(s) > len(b.buf) {
		s = s[:len(b.buf)]
	}
	n := copy(b.buf[:], s)
	b.n = n
}

func (b *errbuf) String() string {
	return string(b.buf[:b.n])
}
