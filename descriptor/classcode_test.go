package descriptor

import "testing"

func TestClassCodeStringKnownAndUnknown(t *testing.T) {
	if got := ClassCodeInterfaceHID.String(); got != "InterfaceHID" {
		t.Errorf("ClassCodeInterfaceHID.String() = %q, want InterfaceHID", got)
	}
	if got := ClassCode(0x77).String(); got != "Unknown(0x77)" {
		t.Errorf("ClassCode(0x77).String() = %q, want Unknown(0x77)", got)
	}
}

func TestDeviceClassName(t *testing.T) {
	d := Device{DeviceClass: uint8(ClassCodeInterfaceMassStorage)}
	if got := d.ClassName(); got != "InterfaceMassStorage" {
		t.Errorf("ClassName() = %q, want InterfaceMassStorage", got)
	}
}
