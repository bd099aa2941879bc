package proxy

import (
	"testing"

	"github.com/daedaluz/usbproxy/rawgadget"
)

func TestIsStandardRequest(t *testing.T) {
	cases := []struct {
		bmRequestType uint8
		want          bool
	}{
		{0x80, true},  // standard, device-to-host
		{0x00, true},  // standard, host-to-device
		{0x20, false}, // class
		{0x40, false}, // vendor
	}
	for _, c := range cases {
		if got := isStandardRequest(c.bmRequestType); got != c.want {
			t.Errorf("isStandardRequest(0x%.2x) = %v, want %v", c.bmRequestType, got, c.want)
		}
	}
}

func TestToInjectSetupCopiesFields(t *testing.T) {
	s := rawgadget.SetupPacket{BmRequestType: 0x80, BRequest: 6, WValue: 0x0100, WIndex: 0, WLength: 18}
	got := toInjectSetup(s)
	if got.BmRequestType != s.BmRequestType || got.BRequest != s.BRequest ||
		got.WValue != s.WValue || got.WIndex != s.WIndex || got.WLength != s.WLength {
		t.Errorf("toInjectSetup(%+v) = %+v", s, got)
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(false) != 0 {
		t.Error("exitCode(false) != 0")
	}
	if exitCode(true) == 0 {
		t.Error("exitCode(true) == 0")
	}
}
