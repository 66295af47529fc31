package transport

import (
	"time"

	"github.com/marmos91/cifscore/internal/cifs/header"
	"github.com/marmos91/cifscore/internal/cifs/types"
)

type requestState uint8

const (
	stateFree requestState = iota
	stateAllocated
	stateSubmitted
	stateResponseReceived
)

func (s requestState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateAllocated:
		return "allocated"
	case stateSubmitted:
		return "submitted"
	case stateResponseReceived:
		return "response_received"
	default:
		return "unknown"
	}
}

type result struct {
	msg *header.Message
	err error
}

// pendingRequest tracks one request between MID allocation and delivery.
// state is guarded by the owning mux; respSeq and signed are only touched
// by the submitting goroutine.
type pendingRequest struct {
	mid       uint16
	command   types.Command
	submitted time.Time
	state     requestState

	respSeq uint32
	signed  bool

	// done has capacity 1 and receives exactly one result.
	done chan result
}
