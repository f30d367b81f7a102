package sim

import (
	"errors"
	"fmt"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/pkg"
)

// ErrNoBulkPair means a configuration has no bulk IN and OUT endpoints.
var ErrNoBulkPair = errors.New("no bulk endpoint pair")

// Device is what enumeration learned about the attached device.
type Device struct {
	Addr         uint8
	Descriptor   hal.DeviceDescriptor
	Config       hal.ConfigurationDescriptor
	Manufacturer string
	Product      string
	Serial       string

	// In and Out are the first bulk endpoints of the configuration. An
	// absent endpoint has a zero Address.
	In, Out hal.EndpointDescriptor
}

// GetDescriptor builds a standard GET_DESCRIPTOR request.
func GetDescriptor(typ, index uint8, lang, length uint16) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: hal.RequestDirectionDeviceToHost | hal.RequestTypeStandard | hal.RequestRecipientDevice,
		Request:     hal.RequestGetDescriptor,
		Value:       hal.DescriptorValue(typ, index),
		Index:       lang,
		Length:      length,
	}
}

// Enumerate runs the standard sequence against a freshly reset device:
// read the EP0 packet size, assign addr, read the device, configuration
// and string descriptors, and select the first configuration.
func (h *Host) Enumerate(addr uint8) (*Device, error) {
	head, err := h.ControlIn(GetDescriptor(hal.DescriptorTypeDevice, 0, 0, 8))
	if err != nil {
		return nil, fmt.Errorf("device descriptor header: %w", err)
	}
	if len(head) < 8 {
		return nil, fmt.Errorf("device descriptor header: %w: %d bytes", pkg.ErrDescriptorTooShort, len(head))
	}
	h.MaxPacket0 = int(head[7])

	if err := h.SetAddress(addr); err != nil {
		return nil, fmt.Errorf("set address %d: %w", addr, err)
	}
	dev := &Device{Addr: addr}

	raw, err := h.ControlIn(GetDescriptor(hal.DescriptorTypeDevice, 0, 0, hal.DeviceDescriptorSize))
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if err := hal.ParseDeviceDescriptor(raw, &dev.Descriptor); err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}

	raw, err = h.ControlIn(GetDescriptor(hal.DescriptorTypeConfiguration, 0, 0, hal.ConfigurationDescriptorSize))
	if err != nil {
		return nil, fmt.Errorf("configuration header: %w", err)
	}
	if err := hal.ParseConfigurationDescriptor(raw, &dev.Config); err != nil {
		return nil, fmt.Errorf("configuration header: %w", err)
	}
	raw, err = h.ControlIn(GetDescriptor(hal.DescriptorTypeConfiguration, 0, 0, dev.Config.TotalLength))
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	if err := dev.scanEndpoints(raw); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	for _, s := range []struct {
		index uint8
		dst   *string
	}{
		{dev.Descriptor.ManufacturerIndex, &dev.Manufacturer},
		{dev.Descriptor.ProductIndex, &dev.Product},
		{dev.Descriptor.SerialNumberIndex, &dev.Serial},
	} {
		if s.index == 0 {
			continue
		}
		raw, err := h.ControlIn(GetDescriptor(hal.DescriptorTypeString, s.index, hal.LangIDUSEnglish, 255))
		if err != nil {
			return nil, fmt.Errorf("string %d: %w", s.index, err)
		}
		if *s.dst, err = hal.ParseString(raw); err != nil {
			return nil, fmt.Errorf("string %d: %w", s.index, err)
		}
	}

	if err := h.SetConfiguration(dev.Config.ConfigurationValue); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}
	return dev, nil
}

// scanEndpoints records the first bulk endpoint in each direction.
func (dev *Device) scanEndpoints(config []byte) error {
	var in, out bool
	return hal.WalkDescriptors(config, func(typ uint8, desc []byte) bool {
		if typ != hal.DescriptorTypeEndpoint {
			return true
		}
		var ep hal.EndpointDescriptor
		if hal.ParseEndpointDescriptor(desc, &ep) != nil || ep.Type != hal.EndpointTypeBulk {
			return true
		}
		if ep.IsIn() && !in {
			dev.In, in = ep, true
		} else if !ep.IsIn() && !out {
			dev.Out, out = ep, true
		}
		return !(in && out)
	})
}

// BulkPair returns the bulk endpoint pair, or [ErrNoBulkPair].
func (dev *Device) BulkPair() (in, out hal.EndpointDescriptor, err error) {
	if dev.In.Address == 0 || dev.Out.Address == 0 {
		return in, out, ErrNoBulkPair
	}
	return dev.In, dev.Out, nil
}
