package descriptor

import (
	"bytes"
	"testing"
)

// fakeSource is a hand-built two-configuration, one-interface,
// two-alt-setting descriptor tree used to exercise Build and its
// lookups without a real device or the device package.
type fakeSource struct {
	device  []byte
	configs map[uint8][]byte
}

func (f *fakeSource) DeviceDescriptorBytes() ([]byte, error) {
	return f.device, nil
}

func (f *fakeSource) ConfigDescriptorBytes(index uint8) ([]byte, error) {
	return f.configs[index], nil
}

func deviceDescriptor(maxPacketSize0 uint8, numConfigs uint8) []byte {
	return []byte{
		18, TypeDevice,
		0x00, 0x02, // bcdUSB 2.00
		0, 0, 0, // class/subclass/protocol
		maxPacketSize0,
		0x34, 0x12, // idVendor
		0x78, 0x56, // idProduct
		0x00, 0x01, // bcdDevice
		0, 0, 0, // string indices
		numConfigs,
	}
}

func altSetting(ifaceNum, alt uint8, epAddrs ...uint8) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{9, TypeInterface, ifaceNum, alt, byte(len(epAddrs)), 0, 0, 0, 0, 0}[:9])
	for _, addr := range epAddrs {
		buf.Write([]byte{7, TypeEndpoint, addr, 0x02, 0x40, 0x00, 0x00})
	}
	return buf.Bytes()
}

func configDescriptor(value uint8, body ...[]byte) []byte {
	var flat []byte
	for _, b := range body {
		flat = append(flat, b...)
	}
	total := 9 + len(flat)
	head := []byte{9, TypeConfig, byte(total), byte(total >> 8), 1, value, 0, 0x80, 50}
	return append(head, flat...)
}

func newFakeTree(t *testing.T) *Tree {
	t.Helper()
	src := &fakeSource{
		device: deviceDescriptor(8, 2),
		configs: map[uint8][]byte{
			0: configDescriptor(1, altSetting(0, 0, 0x81), altSetting(0, 1, 0x81, 0x02)),
			1: configDescriptor(2, altSetting(0, 0, 0x83)),
		},
	}
	tree, err := Build(src, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func TestBuildAppliesMaxPacketSize0Floor(t *testing.T) {
	tree := newFakeTree(t)
	if got := tree.Device().MaxPacketSize0; got != DefaultMaxPacketSize0 {
		t.Errorf("MaxPacketSize0 = %d, want %d", got, DefaultMaxPacketSize0)
	}
	if got := tree.DeviceDescriptorBytes()[7]; got != DefaultMaxPacketSize0 {
		t.Errorf("DeviceDescriptorBytes()[7] = %d, want %d", got, DefaultMaxPacketSize0)
	}
}

func TestBuildLeavesLargerMaxPacketSize0Alone(t *testing.T) {
	src := &fakeSource{
		device:  deviceDescriptor(64, 0),
		configs: map[uint8][]byte{},
	}
	tree, err := Build(src, 8)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := tree.Device().MaxPacketSize0; got != 64 {
		t.Errorf("MaxPacketSize0 = %d, want 64", got)
	}
}

func TestFindConfigByValue(t *testing.T) {
	tree := newFakeTree(t)
	idx, ok := tree.FindConfigByValue(2)
	if !ok || idx != 1 {
		t.Fatalf("FindConfigByValue(2) = (%d, %v), want (1, true)", idx, ok)
	}
	if _, ok := tree.FindConfigByValue(99); ok {
		t.Errorf("FindConfigByValue(99) found, want not found")
	}
}

func TestEndpointsByConfigInterfaceAlt(t *testing.T) {
	tree := newFakeTree(t)
	eps := tree.Endpoints(1, 0, 1)
	if len(eps) != 2 {
		t.Fatalf("Endpoints(1, 0, 1) has %d entries, want 2", len(eps))
	}
	if eps[0].Address != 0x81 || eps[1].Address != 0x02 {
		t.Errorf("Endpoints(1, 0, 1) addrs = %#x, %#x", eps[0].Address, eps[1].Address)
	}
	if eps[1].Direction() != DirectionOut {
		t.Errorf("endpoint 0x02 direction = %v, want DirectionOut", eps[1].Direction())
	}

	if got := tree.Endpoints(1, 0, 5); got != nil {
		t.Errorf("Endpoints for unknown alt = %v, want nil", got)
	}
	if got := tree.Endpoints(77, 0, 0); got != nil {
		t.Errorf("Endpoints for unknown config = %v, want nil", got)
	}
}

func TestNumAltSettings(t *testing.T) {
	tree := newFakeTree(t)
	if got := tree.NumAltSettings(1, 0); got != 2 {
		t.Errorf("NumAltSettings(1, 0) = %d, want 2", got)
	}
	if got := tree.NumAltSettings(2, 0); got != 1 {
		t.Errorf("NumAltSettings(2, 0) = %d, want 1", got)
	}
}

func TestConfigDescriptorBytesRoundTrips(t *testing.T) {
	tree := newFakeTree(t)
	raw, err := tree.ConfigDescriptorBytes(0)
	if err != nil {
		t.Fatalf("ConfigDescriptorBytes(0): %v", err)
	}
	if raw[5] != 1 {
		t.Errorf("config 0 bConfigurationValue = %d, want 1", raw[5])
	}
	if _, err := tree.ConfigDescriptorBytes(99); err == nil {
		t.Errorf("ConfigDescriptorBytes(99) succeeded, want error")
	}
}
