package weave

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// Kind tags the two fatal failure modes a transform can raise.
type Kind int

const (
	// InvalidRequest marks a structural or programming error: a nil or
	// empty method, a constructor, a spill-slot count that does not
	// match the frame's stack, a handler range broken by rewriting.
	InvalidRequest Kind = iota
	// MalformedFrame marks missing or internally inconsistent verifier
	// frame data: no frame recorded at a continuation point, a wide
	// local whose partner half is not Absent, an Absent stack slot.
	MalformedFrame
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "InvalidRequest"
	case MalformedFrame:
		return "MalformedFrame"
	default:
		return "UnknownFault"
	}
}

// Fault is the one error type this package ever returns. A transform
// either succeeds with a full Method or fails atomically with a Fault;
// there is no partial-success path.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error
	// Detail, when non-nil, is dumped via spew in Error() to give a
	// human a concrete look at the offending value without the caller
	// needing its own formatting logic.
	Detail any
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Cause)
	}
	if f.Detail != nil {
		msg = fmt.Sprintf("%s\n%s", msg, spew.Sdump(f.Detail))
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Cause }

func invalidRequest(format string, args ...any) *Fault {
	return &Fault{Kind: InvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func malformedFrame(format string, args ...any) *Fault {
	return &Fault{Kind: MalformedFrame, Message: fmt.Sprintf(format, args...)}
}

func (f *Fault) withDetail(d any) *Fault {
	f.Detail = d
	return f
}

func (f *Fault) withCause(err error) *Fault {
	f.Cause = err
	return f
}

// IsKind reports whether err is a *Fault of the given kind.
func IsKind(err error, k Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == k
	}
	return false
}
