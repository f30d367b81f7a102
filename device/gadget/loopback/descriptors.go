package loopback

import "github.com/ardnew/usbfs/device/hal"

// Identity and layout of the gadget.
const (
	VendorID  = 0x1209
	ProductID = 0x0001

	// BulkEP is the endpoint number of the bulk pair.
	BulkEP = 1

	// PacketSize is the max packet size of every endpoint.
	PacketSize = 64

	// ConfigValue selects the only configuration.
	ConfigValue = 1
)

// String descriptor contents.
const (
	Manufacturer = "usbfs"
	Product      = "KL2x bulk loopback"
	Serial       = "0001"
)

// Descriptors holds encoded descriptors keyed by the GET_DESCRIPTOR wValue.
type Descriptors map[uint16][]byte

// BuildDescriptors returns the descriptors the gadget serves.
func BuildDescriptors() Descriptors {
	dev := hal.DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    PacketSize,
		VendorID:          VendorID,
		ProductID:         ProductID,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}

	var body []byte
	body = (&hal.InterfaceDescriptor{
		NumEndpoints:   2,
		InterfaceClass: hal.ClassVendor,
	}).AppendTo(body)
	body = (&hal.EndpointDescriptor{
		Address:       0x80 | BulkEP,
		Type:          hal.EndpointTypeBulk,
		MaxPacketSize: PacketSize,
	}).AppendTo(body)
	body = (&hal.EndpointDescriptor{
		Address:       BulkEP,
		Type:          hal.EndpointTypeBulk,
		MaxPacketSize: PacketSize,
	}).AppendTo(body)

	cfg := (&hal.ConfigurationDescriptor{
		TotalLength:        uint16(hal.ConfigurationDescriptorSize + len(body)),
		NumInterfaces:      1,
		ConfigurationValue: ConfigValue,
		Attributes:         hal.ConfigAttrBusPowered,
		MaxPower:           50,
	}).AppendTo(nil)

	return Descriptors{
		hal.DescriptorValue(hal.DescriptorTypeDevice, 0):        dev.AppendTo(nil),
		hal.DescriptorValue(hal.DescriptorTypeConfiguration, 0): append(cfg, body...),
		hal.DescriptorValue(hal.DescriptorTypeString, 0):        hal.AppendLanguages(nil, hal.LangIDUSEnglish),
		hal.DescriptorValue(hal.DescriptorTypeString, 1):        hal.AppendString(nil, Manufacturer),
		hal.DescriptorValue(hal.DescriptorTypeString, 2):        hal.AppendString(nil, Product),
		hal.DescriptorValue(hal.DescriptorTypeString, 3):        hal.AppendString(nil, Serial),
	}
}
