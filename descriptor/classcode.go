package descriptor

import "fmt"

// ClassCode is a USB base class code, as assigned by usb.org's defined
// class codes table. Device.ClassName uses it so trace logging can
// render "InterfaceHID" instead of a bare "0x03".
type ClassCode uint8

func (c ClassCode) String() string {
	if name, ok := classCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%.2X)", uint8(c))
}

// Both device- and interface-scope class codes.
const (
	ClassCodeCDCControl     = ClassCode(0x02)
	ClassCodeDiagnostic     = ClassCode(0xDC)
	ClassCodeMisc           = ClassCode(0xEF)
	ClassCodeVendorSpecific = ClassCode(0xFF)
)

// Interface-scope class codes.
const (
	ClassCodeInterfaceAudio               = ClassCode(0x01)
	ClassCodeInterfaceHID                 = ClassCode(0x03)
	ClassCodeInterfacePhysical            = ClassCode(0x05)
	ClassCodeInterfaceImage               = ClassCode(0x06)
	ClassCodeInterfacePrinter             = ClassCode(0x07)
	ClassCodeInterfaceMassStorage         = ClassCode(0x08)
	ClassCodeInterfaceCDCData             = ClassCode(0x0A)
	ClassCodeInterfaceSmartCard           = ClassCode(0x0B)
	ClassCodeInterfaceContentSecurity     = ClassCode(0x0D)
	ClassCodeInterfaceVideo               = ClassCode(0x0E)
	ClassCodeInterfacePersonalHealthcare   = ClassCode(0x0F)
	ClassCodeInterfaceAudioVideo           = ClassCode(0x10)
	ClassCodeInterfaceTypeCBridgeClass     = ClassCode(0x12)
	ClassCodeInterfaceWirelessController   = ClassCode(0xE0)
	ClassCodeInterfaceApplicationSpecific  = ClassCode(0xFE)
)

// Device-scope-only class codes.
const (
	ClassCodeDeviceHub       = ClassCode(0x09)
	ClassCodeDeviceBillBoard = ClassCode(0x11)
)

var classCodeNames = map[ClassCode]string{
	0x00:                                 "UseInterfaceDescriptors",
	ClassCodeInterfaceAudio:              "InterfaceAudio",
	ClassCodeInterfaceHID:                "InterfaceHID",
	ClassCodeInterfacePhysical:           "InterfacePhysical",
	ClassCodeInterfaceImage:              "InterfaceImage",
	ClassCodeInterfacePrinter:            "InterfacePrinter",
	ClassCodeInterfaceMassStorage:        "InterfaceMassStorage",
	ClassCodeInterfaceCDCData:            "InterfaceCDCData",
	ClassCodeInterfaceSmartCard:          "InterfaceSmartCard",
	ClassCodeInterfaceContentSecurity:    "InterfaceContentSecurity",
	ClassCodeInterfaceVideo:              "InterfaceVideo",
	ClassCodeInterfacePersonalHealthcare: "InterfacePersonalHealthcare",
	ClassCodeInterfaceAudioVideo:         "InterfaceAudioVideo",
	ClassCodeInterfaceTypeCBridgeClass:   "InterfaceTypeCBridgeClass",
	ClassCodeInterfaceWirelessController: "InterfaceWirelessController",
	ClassCodeInterfaceApplicationSpecific: "InterfaceApplicationSpecific",
	ClassCodeDeviceHub:                    "DeviceHub",
	ClassCodeDeviceBillBoard:              "DeviceBillBoard",
	ClassCodeCDCControl:                   "CDCControl",
	ClassCodeDiagnostic:                   "Diagnostic",
	ClassCodeMisc:                         "Misc",
	ClassCodeVendorSpecific:               "VendorSpecific",
}

// ClassName renders the device descriptor's own class code for trace
// logging.
func (d Device) ClassName() string {
	return ClassCode(d.DeviceClass).String()
}
