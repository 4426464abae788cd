// Package route classifies traceroute paths against the configured test
// topology.
package route

import (
	"errors"
	"fmt"

	"github.com/kabili207/lnatest/core"
)

var (
	ErrRoofNotConfigured = errors.New("roof node is not configured")
	ErrEmptyRoute        = errors.New("route is empty")
	ErrMultiHopRoute     = errors.New("route has more than one hop")
	ErrWrongHop          = errors.New("route does not pass through the roof node")
)

// ValidateRelay checks the forward path of a relay-topology traceroute. The
// path is accepted only if it consists of exactly one hop, the roof node.
// A nil roof means the roof is not configured, which always fails.
func ValidateRelay(forward []uint32, roof *core.NodeID) error {
	if roof == nil {
		return ErrRoofNotConfigured
	}
	switch len(forward) {
	case 0:
		return ErrEmptyRoute
	case 1:
		if core.NodeID(forward[0]) != *roof {
			return fmt.Errorf("%w: got %s, want %s", ErrWrongHop, core.NodeID(forward[0]), *roof)
		}
		return nil
	default:
		return fmt.Errorf("%w: %d hops", ErrMultiHopRoute, len(forward))
	}
}

// Reason returns a short label for a validation error, for counters and
// logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRoofNotConfigured):
		return "roof_not_configured"
	case errors.Is(err, ErrEmptyRoute):
		return "empty_route"
	case errors.Is(err, ErrMultiHopRoute):
		return "multi_hop"
	case errors.Is(err, ErrWrongHop):
		return "wrong_hop"
	default:
		return "invalid"
	}
}

// Format renders a node number path as "[1, 2]".
func Format(path []uint32) string {
	b := make([]byte, 0, 2+len(path)*12)
	b = append(b, '[')
	for i, n := range path {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = fmt.Appendf(b, "%d", n)
	}
	return string(append(b, ']'))
}
