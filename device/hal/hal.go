package hal

import (
	"encoding/binary"
	"fmt"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// EndpointType is the transfer type of an endpoint (USB 2.0 Spec Table 9-13).
type EndpointType uint8

// Endpoint transfer types.
const (
	EndpointTypeControl     EndpointType = 0x00
	EndpointTypeIsochronous EndpointType = 0x01
	EndpointTypeBulk        EndpointType = 0x02
	EndpointTypeInterrupt   EndpointType = 0x03
)

// String returns a human-readable transfer type name.
func (t EndpointType) String() string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
)

// Request type fields (USB 2.0 Spec Table 9-2).
const (
	RequestDirectionMask         = 0x80
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeMask     = 0x60
	RequestTypeStandard = 0x00

	RequestRecipientMask     = 0x1F
	RequestRecipientDevice   = 0x00
	RequestRecipientEndpoint = 0x02
)

// SetupPacket represents a USB SETUP packet.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// IsDeviceToHost reports whether the data stage (if any) flows to the host.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&RequestDirectionMask == RequestDirectionDeviceToHost
}

// IsSetAddress reports whether raw setup bytes hold a standard
// SET_ADDRESS request addressed to the device.
func IsSetAddress(setup []byte) bool {
	return len(setup) >= 2 && setup[0] == RequestDirectionHostToDevice|RequestTypeStandard|RequestRecipientDevice &&
		setup[1] == RequestSetAddress
}

// String returns a compact description for logging.
func (s *SetupPacket) String() string {
	return fmt.Sprintf("bmRequestType=0x%02X bRequest=0x%02X wValue=0x%04X wIndex=0x%04X wLength=%d",
		s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// Event is a bus-level notification delivered to the upper layer.
type Event uint8

// Bus events.
const (
	EventReset      Event = iota // Bus reset detected
	EventAddress                 // Device address latched
	EventConfigured              // Upper layer activated a configuration
	EventSuspend                 // Bus idle detected
	EventWakeup                  // Bus activity resumed
	EventStalled                 // Endpoint stall handshake observed
)

// String returns a human-readable event name.
func (e Event) String() string {
	switch e {
	case EventReset:
		return "reset"
	case EventAddress:
		return "address"
	case EventConfigured:
		return "configured"
	case EventSuspend:
		return "suspend"
	case EventWakeup:
		return "wakeup"
	case EventStalled:
		return "stalled"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}
