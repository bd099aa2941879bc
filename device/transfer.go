package device

import (
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Direction tags a data-endpoint Transfer request.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// defaultBulkRetries bounds the retry policy for bulk transfers: they
// retry on Halted/Timeout, clearing the halt between attempts; interrupt
// and isochronous transfers never retry.
const defaultBulkRetries = 5

// TransferType classifies the endpoint being driven, to select the right
// retry policy.
type TransferType uint8

const (
	TransferBulk TransferType = iota
	TransferInterrupt
	TransferIsochronous
)

// Transfer forwards data to/from the peripheral's data endpoint epAddr.
// For OUT transfers, data is the payload to send. For IN transfers, data
// is ignored and sizeHint bounds the read. Bulk transfers are retried up
// to defaultBulkRetries times on Halted/Timeout, clearing the halt between
// attempts; interrupt and isochronous transfers are attempted once.
func (d *Device) Transfer(epAddr uint8, dir Direction, typ TransferType, data []byte, sizeHint int, timeout time.Duration) ([]byte, error) {
	attempts := 1
	if typ == TransferBulk {
		attempts = defaultBulkRetries + 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := d.transferOnce(epAddr, dir, data, sizeHint, timeout)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if err != ErrHalted && err != ErrStalled && err != ErrTimeout {
			return nil, err
		}
		if err == ErrHalted || err == ErrStalled {
			if clearErr := d.ClearHalt(epAddr); clearErr != nil {
				return nil, clearErr
			}
		}
	}
	return nil, lastErr
}

func (d *Device) transferOnce(epAddr uint8, dir Direction, data []byte, sizeHint int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	inEp, hasIn := d.inEps[epAddr]
	outEp, hasOut := d.outEps[epAddr]
	d.mu.Unlock()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	switch dir {
	case DirectionIn:
		if !hasIn {
			return nil, fmt.Errorf("device: no IN endpoint claimed at address 0x%.2x", epAddr)
		}
		buf := make([]byte, sizeHint)
		go func() {
			n, err := inEp.Read(buf)
			done <- result{n, err}
		}()
		select {
		case r := <-done:
			if r.err != nil {
				return nil, classify(r.err)
			}
			return buf[:r.n], nil
		case <-time.After(timeout):
			return nil, ErrTimeout
		}
	case DirectionOut:
		if !hasOut {
			return nil, fmt.Errorf("device: no OUT endpoint claimed at address 0x%.2x", epAddr)
		}
		go func() {
			n, err := outEp.Write(data)
			done <- result{n, err}
		}()
		select {
		case r := <-done:
			if r.err != nil {
				return nil, classify(r.err)
			}
			return data[:r.n], nil
		case <-time.After(timeout):
			return nil, ErrTimeout
		}
	default:
		return nil, fmt.Errorf("device: invalid direction %d", dir)
	}
}

// ClearHalt clears a halt condition on the endpoint at epAddr.
func (d *Device) ClearHalt(epAddr uint8) error {
	return classify(d.handle.ClearHalt(epAddr))
}

// transferTypeFromAttributes maps a standard endpoint descriptor's
// bmAttributes transfer-type bits to a TransferType, used by the pipeline
// to pick a retry policy without re-deriving it from raw bytes.
func transferTypeFromAttributes(bmAttributes uint8) TransferType {
	switch gousb.TransferType(bmAttributes & 0x03) {
	case gousb.TransferTypeBulk:
		return TransferBulk
	case gousb.TransferTypeInterrupt:
		return TransferInterrupt
	default:
		return TransferIsochronous
	}
}
