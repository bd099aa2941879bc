package device

import "time"

// pollInterval is how often WatchDisconnect probes the device to detect
// removal. google/gousb does not expose libusb's hotplug callback
// mechanism directly, so this polls a cheap, side-effect-free control
// transfer (GET_STATUS) instead, detecting removal by probing rather
// than by a kernel event.
const pollInterval = 250 * time.Millisecond

// WatchDisconnect invokes cb exactly once, from its own goroutine, when
// the device stops responding. Calling Close stops the watcher without
// invoking cb.
func (d *Device) WatchDisconnect(cb func()) {
	d.watchOnce.Do(func() {
		d.mu.Lock()
		d.watchStop = make(chan struct{})
		stop := d.watchStop
		d.mu.Unlock()
		go d.pollForDisconnect(stop, cb)
	})
}

func (d *Device) pollForDisconnect(stop <-chan struct{}, cb func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			buf := make([]byte, 2)
			if _, err := d.rawControl(0x80, 0x00 /* GET_STATUS */, 0, 0, buf, 200*time.Millisecond); err != nil {
				if err == ErrShutdown {
					cb()
					return
				}
			}
		}
	}
}
