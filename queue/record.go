// Package queue implements the bounded, cancelable transfer queue that
// decouples a pipeline's reader activity from its writer activity.
package queue

import "fmt"

// MaxTransfer is the largest payload a single Record may carry. It mirrors
// the raw-gadget and usbdevfs inline transfer buffer limit.
const MaxTransfer = 4096

// Direction tags a Record with the side of the pipeline that produced it.
type Direction uint8

const (
	// DirectionIn marks a record read from the device (forwarded to the host).
	DirectionIn Direction = iota
	// DirectionOut marks a record read from the host (forwarded to the device).
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// Record is a single in-flight transfer. Ownership moves from the producing
// activity to the consuming activity when it is pushed onto a Queue; neither
// side retains a reference to the backing array afterwards.
type Record struct {
	Endpoint    uint8
	Direction   Direction
	Data        []byte
	ZeroLength  bool
	Transformed bool
	Seq         uint64
}

// NewRecord copies data into a freshly owned Record. Copying keeps the
// queue's ownership contract simple: the caller's buffer may be reused
// immediately after NewRecord returns.
func NewRecord(ep uint8, dir Direction, data []byte, seq uint64) (*Record, error) {
	if len(data) > MaxTransfer {
		return nil, fmt.Errorf("queue: record of %d bytes exceeds MaxTransfer (%d)", len(data), MaxTransfer)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Record{
		Endpoint:   ep,
		Direction:  dir,
		Data:       buf,
		ZeroLength: len(data) == 0,
		Seq:        seq,
	}, nil
}
