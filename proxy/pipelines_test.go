package proxy

import (
	"testing"

	"github.com/daedaluz/usbproxy/descriptor"
	"github.com/daedaluz/usbproxy/device"
)

func TestClassifyTransferType(t *testing.T) {
	cases := []struct {
		attrs uint8
		want  device.TransferType
	}{
		{0x02, device.TransferBulk},
		{0x03, device.TransferInterrupt},
		{0x01, device.TransferIsochronous},
	}
	for _, c := range cases {
		if got := classifyTransferType(c.attrs); got != c.want {
			t.Errorf("classifyTransferType(0x%.2x) = %v, want %v", c.attrs, got, c.want)
		}
	}
}

func TestEndpointDescriptorBytesRoundTrips(t *testing.T) {
	ep := descriptor.Endpoint{Address: 0x81, Attributes: 0x03, MaxPacketSize: 64, Interval: 10}
	raw := endpointDescriptorBytes(ep)
	if len(raw) != 7 {
		t.Fatalf("len(raw) = %d, want 7", len(raw))
	}
	if raw[0] != 7 || raw[1] != descriptor.TypeEndpoint {
		t.Errorf("header = %v", raw[:2])
	}
	if raw[2] != ep.Address || raw[3] != ep.Attributes {
		t.Errorf("address/attributes = %v", raw[2:4])
	}
	if uint16(raw[4])|uint16(raw[5])<<8 != ep.MaxPacketSize {
		t.Errorf("max packet size mismatch")
	}
	if raw[6] != ep.Interval {
		t.Errorf("interval = %d, want %d", raw[6], ep.Interval)
	}
}
