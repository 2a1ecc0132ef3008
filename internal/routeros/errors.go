package routeros

import (
	"errors"
	"fmt"
)

// Kind classifies a failed REST call.
type Kind int

// Failure kinds. KindUnknown is only returned by [KindOf] for errors
// that did not come from this package.
const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuth
	KindHTTP
	KindDecode
)

// String returns the lower-case kind name used in log attributes.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindHTTP:
		return "http"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by every [Client] fetch that fails. Status and Body
// are set for KindAuth and KindHTTP.
type Error struct {
	Kind   Kind
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuth, KindHTTP:
		if e.Body != "" {
			return fmt.Sprintf("routeros %s %s: status %d: %s", e.Kind, e.Path, e.Status, e.Body)
		}
		return fmt.Sprintf("routeros %s %s: status %d", e.Kind, e.Path, e.Status)
	default:
		return fmt.Sprintf("routeros %s %s: %v", e.Kind, e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}
