package device

import "errors"

// Sentinel outcomes for Device.Control and Device.Transfer, modeled on
// the sentinel-error taxonomy used by kevmo314-go-usb's transfer.go
// (ErrPipe, ErrTimeout, ErrNoDevice, ...).
var (
	ErrStalled      = errors.New("device: stalled")
	ErrTimeout      = errors.New("device: timeout")
	ErrHalted       = errors.New("device: halted")
	ErrIncomplete   = errors.New("device: incomplete transfer")
	ErrOther        = errors.New("device: transfer failed")
	ErrDeviceNotFound = errors.New("device: not found within deadline")
	ErrShutdown     = errors.New("device: shutdown")
)
