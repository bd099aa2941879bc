package proxy

// requestType is the bmRequestType byte's type/recipient bitfield,
// independent of direction.
type requestType uint8

const (
	requestTypeStandard = requestType(0b00000000)
	requestTypeClass    = requestType(0b00100000)
	requestTypeVendor   = requestType(0b01000000)
	requestTypeReserved = requestType(0b01100000)
	requestTypeMask     = requestType(0b01100000)
)
