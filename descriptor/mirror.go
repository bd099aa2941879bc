package descriptor

import "fmt"

// source is the minimal device-facing capability the mirror needs to
// build itself; device.Device satisfies it.
type source interface {
	DeviceDescriptorBytes() ([]byte, error)
	ConfigDescriptorBytes(index uint8) ([]byte, error)
}

// DefaultMaxPacketSize0 is the bMaxPacketSize0 floor applied when the
// peripheral's own value is smaller, working around hosts/controllers
// that misbehave on EP0 with anything less than a full 64-byte endpoint.
const DefaultMaxPacketSize0 = 64

// Tree is a read-only snapshot of the peripheral's descriptor tree,
// built once at startup and consulted by the EP0 state machine and the
// pipeline for every subsequent lookup. It never talks to the device
// again after Build returns.
type Tree struct {
	device     Device
	deviceRaw  []byte
	configs    []Config
	byValue    map[uint8]int
}

// Build fetches the device descriptor and every configuration descriptor
// from src, parses them, and applies the bMaxPacketSize0 floor to the
// device descriptor bytes this Tree will hand back. floor of 0 uses
// DefaultMaxPacketSize0.
func Build(src source, floor uint8) (*Tree, error) {
	if floor == 0 {
		floor = DefaultMaxPacketSize0
	}
	raw, err := src.DeviceDescriptorBytes()
	if err != nil {
		return nil, fmt.Errorf("descriptor: build: %w", err)
	}
	dev, err := parseDevice(raw)
	if err != nil {
		return nil, fmt.Errorf("descriptor: build: %w", err)
	}
	mirrored := append([]byte(nil), raw...)
	if mirrored[7] < floor {
		mirrored[7] = floor
		dev.MaxPacketSize0 = floor
	}

	t := &Tree{
		device:    dev,
		deviceRaw: mirrored,
		byValue:   make(map[uint8]int),
	}
	for i := uint8(0); i < dev.NumConfigurations; i++ {
		cfgRaw, err := src.ConfigDescriptorBytes(i)
		if err != nil {
			return nil, fmt.Errorf("descriptor: build: config %d: %w", i, err)
		}
		cfg, err := parseConfig(cfgRaw)
		if err != nil {
			return nil, fmt.Errorf("descriptor: build: config %d: %w", i, err)
		}
		t.byValue[cfg.Value] = len(t.configs)
		t.configs = append(t.configs, cfg)
	}
	return t, nil
}

// Device returns the parsed device descriptor, reflecting the
// bMaxPacketSize0 floor applied at Build time.
func (t *Tree) Device() Device {
	return t.device
}

// DeviceDescriptorBytes returns the verbatim device descriptor bytes to
// answer GET_DESCRIPTOR(device) with, including the bMaxPacketSize0
// floor override.
func (t *Tree) DeviceDescriptorBytes() []byte {
	out := make([]byte, len(t.deviceRaw))
	copy(out, t.deviceRaw)
	return out
}

// ConfigDescriptorBytes returns the verbatim configuration descriptor
// bytes (header plus every nested descriptor) for the configuration at
// index, to answer GET_DESCRIPTOR(configuration) with. No override is
// applied here: the bMaxPacketSize0 floor only concerns the device
// descriptor's EP0 entry.
func (t *Tree) ConfigDescriptorBytes(index int) ([]byte, error) {
	if index < 0 || index >= len(t.configs) {
		return nil, fmt.Errorf("descriptor: config index %d out of range", index)
	}
	out := make([]byte, len(t.configs[index].Raw))
	copy(out, t.configs[index].Raw)
	return out, nil
}

// FindConfigByValue returns the index of the configuration whose
// bConfigurationValue equals value, and whether one was found.
func (t *Tree) FindConfigByValue(value uint8) (int, bool) {
	idx, ok := t.byValue[value]
	return idx, ok
}

// Endpoints returns the endpoint descriptors active when configuration
// configValue, interface iface, alternate setting alt is selected. It
// returns nil if the configuration, interface, or alt setting is
// unknown.
func (t *Tree) Endpoints(configValue uint8, iface, alt int) []Endpoint {
	idx, ok := t.byValue[configValue]
	if !ok {
		return nil
	}
	for _, ifc := range t.configs[idx].Interfaces {
		if int(ifc.Number) == iface && int(ifc.AltSetting) == alt {
			out := make([]Endpoint, len(ifc.Endpoints))
			copy(out, ifc.Endpoints)
			return out
		}
	}
	return nil
}

// NumAltSettings returns how many alternate settings interface iface has
// within configuration configValue.
func (t *Tree) NumAltSettings(configValue uint8, iface int) int {
	idx, ok := t.byValue[configValue]
	if !ok {
		return 0
	}
	count := 0
	for _, ifc := range t.configs[idx].Interfaces {
		if int(ifc.Number) == iface {
			count++
		}
	}
	return count
}

// NumConfigurations returns how many configurations the mirror holds.
func (t *Tree) NumConfigurations() int {
	return len(t.configs)
}

// InterfaceNumbers returns the distinct interface numbers present in
// configuration configValue, in ascending order, used when bringing a
// newly selected configuration's alternate-setting-0 endpoints up.
func (t *Tree) InterfaceNumbers(configValue uint8) []int {
	idx, ok := t.byValue[configValue]
	if !ok {
		return nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, ifc := range t.configs[idx].Interfaces {
		n := int(ifc.Number)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
