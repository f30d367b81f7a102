package hal

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/usbfs/pkg"
)

// Standard descriptor types (USB 2.0 Spec Table 9-5).
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
)

// ClassVendor marks a vendor-specific device or interface class.
const ClassVendor = 0xFF

// ConfigAttrBusPowered must be set in every configuration's attributes.
const ConfigAttrBusPowered = 0x80

// LangIDUSEnglish is the language ID of US English strings.
const LangIDUSEnglish = 0x0409

// DescriptorValue builds the wValue of GET_DESCRIPTOR: type in the high
// byte, index in the low byte.
func DescriptorValue(typ, index uint8) uint16 {
	return uint16(typ)<<8 | uint16(index)
}

// DeviceDescriptor is the standard device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // BCD
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // BCD
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// AppendTo appends the encoded descriptor to b.
func (d *DeviceDescriptor) AppendTo(b []byte) []byte {
	b = append(b, DeviceDescriptorSize, DescriptorTypeDevice)
	b = binary.LittleEndian.AppendUint16(b, d.USBVersion)
	b = append(b, d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0)
	b = binary.LittleEndian.AppendUint16(b, d.VendorID)
	b = binary.LittleEndian.AppendUint16(b, d.ProductID)
	b = binary.LittleEndian.AppendUint16(b, d.DeviceVersion)
	return append(b, d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations)
}

// ParseDeviceDescriptor decodes a device descriptor into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := check(data, DescriptorTypeDevice, DeviceDescriptorSize); err != nil {
		return err
	}
	*out = DeviceDescriptor{
		USBVersion:        binary.LittleEndian.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          binary.LittleEndian.Uint16(data[8:]),
		ProductID:         binary.LittleEndian.Uint16(data[10:]),
		DeviceVersion:     binary.LittleEndian.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return nil
}

// ConfigurationDescriptor is the header of a configuration. TotalLength
// covers the header and every interface and endpoint descriptor after it.
type ConfigurationDescriptor struct {
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// AppendTo appends the encoded descriptor to b.
func (c *ConfigurationDescriptor) AppendTo(b []byte) []byte {
	b = append(b, ConfigurationDescriptorSize, DescriptorTypeConfiguration)
	b = binary.LittleEndian.AppendUint16(b, c.TotalLength)
	return append(b, c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex, c.Attributes, c.MaxPower)
}

// ParseConfigurationDescriptor decodes a configuration header into out.
func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if err := check(data, DescriptorTypeConfiguration, ConfigurationDescriptorSize); err != nil {
		return err
	}
	*out = ConfigurationDescriptor{
		TotalLength:        binary.LittleEndian.Uint16(data[2:]),
		NumInterfaces:      data[4],
		ConfigurationValue: data[5],
		ConfigurationIndex: data[6],
		Attributes:         data[7],
		MaxPower:           data[8],
	}
	return nil
}

// InterfaceDescriptor is the standard interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// AppendTo appends the encoded descriptor to b.
func (i *InterfaceDescriptor) AppendTo(b []byte) []byte {
	return append(b, InterfaceDescriptorSize, DescriptorTypeInterface,
		i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
		i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol, i.InterfaceIndex)
}

// EndpointDescriptor is the standard endpoint descriptor. Bit 7 of
// Address is set for IN endpoints.
type EndpointDescriptor struct {
	Address       uint8
	Type          EndpointType
	MaxPacketSize uint16
	Interval      uint8
}

// Number returns the endpoint number without the direction bit.
func (e *EndpointDescriptor) Number() uint8 { return e.Address & 0x0F }

// IsIn reports whether the endpoint sends data to the host.
func (e *EndpointDescriptor) IsIn() bool { return e.Address&0x80 != 0 }

// AppendTo appends the encoded descriptor to b.
func (e *EndpointDescriptor) AppendTo(b []byte) []byte {
	b = append(b, EndpointDescriptorSize, DescriptorTypeEndpoint, e.Address, uint8(e.Type))
	b = binary.LittleEndian.AppendUint16(b, e.MaxPacketSize)
	return append(b, e.Interval)
}

// ParseEndpointDescriptor decodes an endpoint descriptor into out.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := check(data, DescriptorTypeEndpoint, EndpointDescriptorSize); err != nil {
		return err
	}
	*out = EndpointDescriptor{
		Address:       data[2],
		Type:          EndpointType(data[3] & 0x03),
		MaxPacketSize: binary.LittleEndian.Uint16(data[4:]),
		Interval:      data[6],
	}
	return nil
}

// AppendString appends s as a UTF-16LE string descriptor, truncated to
// the 255-byte descriptor limit.
func AppendString(b []byte, s string) []byte {
	units := utf16.Encode([]rune(s))
	if len(units) > 126 {
		units = units[:126]
	}
	b = append(b, uint8(2+2*len(units)), DescriptorTypeString)
	for _, u := range units {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return b
}

// AppendLanguages appends string descriptor zero, the list of supported
// language IDs.
func AppendLanguages(b []byte, langIDs ...uint16) []byte {
	b = append(b, uint8(2+2*len(langIDs)), DescriptorTypeString)
	for _, id := range langIDs {
		b = binary.LittleEndian.AppendUint16(b, id)
	}
	return b
}

// ParseString decodes a string descriptor.
func ParseString(data []byte) (string, error) {
	if err := check(data, DescriptorTypeString, 2); err != nil {
		return "", err
	}
	n := max(2, min(int(data[0]), len(data)))
	units := make([]uint16, 0, (n-2)/2)
	for i := 2; i+1 < n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(data[i:]))
	}
	return string(utf16.Decode(units)), nil
}

// WalkDescriptors calls fn for each descriptor in a configuration blob,
// stopping early when fn returns false. It fails on a zero or overrunning
// length.
func WalkDescriptors(data []byte, fn func(typ uint8, desc []byte) bool) error {
	for len(data) > 0 {
		n := int(data[0])
		if n < 2 || n > len(data) {
			return fmt.Errorf("%w: length %d with %d bytes left",
				pkg.ErrDescriptorTooShort, n, len(data))
		}
		if !fn(data[1], data[:n]) {
			return nil
		}
		data = data[n:]
	}
	return nil
}

func check(data []byte, typ uint8, size int) error {
	if len(data) < size {
		return fmt.Errorf("%w: %d bytes, want %d", pkg.ErrDescriptorTooShort, len(data), size)
	}
	if data[1] != typ {
		return fmt.Errorf("%w: type 0x%02X, want 0x%02X", pkg.ErrDescriptorType, data[1], typ)
	}
	return nil
}
