package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/device/hal/kinetis"
	"github.com/ardnew/usbfs/pkg"
)

// ErrToggle means a data packet arrived with the wrong DATA0/DATA1 PID.
var ErrToggle = errors.New("data toggle mismatch")

// Host performs standard transfers against the device attached to a
// simulated peripheral, retrying transactions the device NAKs.
type Host struct {
	p *Peripheral

	// Addr is the device address used for every token.
	Addr uint8

	// MaxPacket0 is the control endpoint's max packet size.
	MaxPacket0 int

	// Retries bounds the attempts per transaction while the device NAKs.
	Retries int

	// Backoff is the pause between NAKed attempts.
	Backoff time.Duration

	// Next data toggle per endpoint direction, keyed by ep | dir<<7.
	toggles map[uint8]kinetis.Toggle
}

// NewHost returns a host driving p.
func NewHost(p *Peripheral) *Host {
	return &Host{
		p:          p,
		MaxPacket0: kinetis.PacketSize,
		Retries:    1000,
		Backoff:    50 * time.Microsecond,
		toggles:    make(map[uint8]kinetis.Toggle),
	}
}

// Peripheral returns the simulated controller the host drives.
func (h *Host) Peripheral() *Peripheral { return h.p }

func toggleKey(ep uint8, dir kinetis.Direction) uint8 {
	return ep | uint8(dir)<<7
}

// ResetToggles returns every data endpoint toggle to DATA0, as after
// SET_CONFIGURATION.
func (h *Host) ResetToggles() {
	clear(h.toggles)
}

// Reset resets the bus and forgets the device address.
func (h *Host) Reset() {
	h.p.BusReset()
	h.Addr = 0
	h.ResetToggles()
}

func (h *Host) retry(op func() error) error {
	var err error
	for try := 0; try <= h.Retries; try++ {
		if err = op(); !errors.Is(err, ErrNAK) {
			return err
		}
		if h.Backoff > 0 {
			time.Sleep(h.Backoff)
		}
	}
	return fmt.Errorf("%w: after %d attempts: %w", pkg.ErrTimeout, h.Retries+1, err)
}

func (h *Host) setup(ep uint8, s hal.SetupPacket) error {
	var pkt [hal.SetupPacketSize]byte
	s.MarshalTo(pkt[:])
	return h.retry(func() error { return h.p.Setup(h.Addr, ep, pkt) })
}

func (h *Host) in(ep uint8, want kinetis.Toggle) ([]byte, error) {
	var data []byte
	err := h.retry(func() error {
		d, got, err := h.p.In(h.Addr, ep)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: ep%d IN got %s, want %s", ErrToggle, ep, got, want)
		}
		data = d
		return nil
	})
	return data, err
}

func (h *Host) out(ep uint8, toggle kinetis.Toggle, data []byte) error {
	return h.retry(func() error { return h.p.Out(h.Addr, ep, toggle, data) })
}

// ControlIn runs a control read on EP0: SETUP, IN data stage until
// Length bytes or a short packet, OUT status stage.
func (h *Host) ControlIn(s hal.SetupPacket) ([]byte, error) {
	if err := h.setup(0, s); err != nil {
		return nil, err
	}
	var data []byte
	toggle := kinetis.DATA1
	for len(data) < int(s.Length) {
		pkt, err := h.in(0, toggle)
		if err != nil {
			return data, err
		}
		data = append(data, pkt...)
		toggle = toggle.Flip()
		if len(pkt) < h.MaxPacket0 {
			break
		}
	}
	if err := h.out(0, kinetis.DATA1, nil); err != nil {
		return data, fmt.Errorf("status stage: %w", err)
	}
	return data, nil
}

// ControlOut runs a control write on EP0: SETUP, OUT data stage if data is
// not empty, IN status stage.
func (h *Host) ControlOut(s hal.SetupPacket, data []byte) error {
	s.Length = uint16(len(data))
	if err := h.setup(0, s); err != nil {
		return err
	}
	toggle := kinetis.DATA1
	for off := 0; off < len(data); off += h.MaxPacket0 {
		end := min(off+h.MaxPacket0, len(data))
		if err := h.out(0, toggle, data[off:end]); err != nil {
			return err
		}
		toggle = toggle.Flip()
	}
	pkt, err := h.in(0, kinetis.DATA1)
	if err != nil {
		return fmt.Errorf("status stage: %w", err)
	}
	if len(pkt) != 0 {
		return fmt.Errorf("status stage: %d bytes, want 0", len(pkt))
	}
	return nil
}

// SetAddress assigns addr to the device and uses it from then on.
func (h *Host) SetAddress(addr uint8) error {
	err := h.ControlOut(hal.SetupPacket{
		RequestType: hal.RequestDirectionHostToDevice | hal.RequestTypeStandard | hal.RequestRecipientDevice,
		Request:     hal.RequestSetAddress,
		Value:       uint16(addr),
	}, nil)
	if err != nil {
		return err
	}
	h.Addr = addr
	return nil
}

// SetConfiguration selects configuration value v and resets the data
// toggles of every endpoint.
func (h *Host) SetConfiguration(v uint8) error {
	err := h.ControlOut(hal.SetupPacket{
		RequestType: hal.RequestDirectionHostToDevice | hal.RequestTypeStandard | hal.RequestRecipientDevice,
		Request:     hal.RequestSetConfiguration,
		Value:       uint16(v),
	}, nil)
	if err == nil {
		h.ResetToggles()
	}
	return err
}

// BulkOut sends data to ep in packets of at most maxPacket bytes. An empty
// data sends one zero-length packet.
func (h *Host) BulkOut(ep uint8, data []byte, maxPacket int) error {
	key := toggleKey(ep, kinetis.RX)
	off := 0
	for {
		end := min(off+maxPacket, len(data))
		if err := h.out(ep, h.toggles[key], data[off:end]); err != nil {
			return err
		}
		h.toggles[key] = h.toggles[key].Flip()
		off = end
		if off >= len(data) {
			return nil
		}
	}
}

// BulkIn reads from ep until n bytes or a short packet arrive.
func (h *Host) BulkIn(ep uint8, n, maxPacket int) ([]byte, error) {
	key := toggleKey(ep, kinetis.TX)
	var data []byte
	for len(data) < n {
		pkt, err := h.in(ep, h.toggles[key])
		if err != nil {
			return data, err
		}
		h.toggles[key] = h.toggles[key].Flip()
		data = append(data, pkt...)
		if len(pkt) < maxPacket {
			break
		}
	}
	return data, nil
}
