package kinetis

import (
	"fmt"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/pkg"
)

// Section is the driver's critical section, entered through the [Port]. A
// *Section handed to a callback is already held; one obtained from
// [Driver.Lock] is held until Unlock. Section satisfies sync.Locker, so it
// can guard the byte queues that feed the endpoints.
//
// Every other method requires the section to be held.
type Section struct {
	d *Driver
}

// Lock acquires the section.
func (s *Section) Lock() { s.d.port.Lock() }

// Unlock releases the section.
func (s *Section) Unlock() { s.d.port.Unlock() }

// Section returns the driver's critical section without acquiring it.
func (d *Driver) Section() *Section { return &d.section }

// Lock acquires the critical section and returns it.
func (d *Driver) Lock() *Section {
	d.section.Lock()
	return &d.section
}

// Driver returns the driver the section belongs to.
func (s *Section) Driver() *Driver { return s.d }

// State returns the driver state.
func (s *Section) State() State { return s.d.fsm.State() }

// Reset performs a bus reset of the driver state. See [Driver.Reset].
func (s *Section) Reset() error { return s.d.reset() }

// SetAddress programs the device address register. Only the low seven
// bits of addr are used.
func (s *Section) SetAddress(addr uint8) {
	d := s.d
	addr = AddrADDR.Get(addr)
	d.trace.Put('g')
	d.trace.Hex(addr)
	d.address = addr
	d.write(RegADDR, AddrADDR.Set(0, addr))
	pkg.LogDebug(pkg.ComponentLLD, "set address", "addr", addr)
}

// InitEndpoint enables endpoint ep as described by cfg with the data
// toggles reset to DATA0. Max packet sizes must be in 1..[PacketSize].
func (s *Section) InitEndpoint(ep uint8, cfg *EndpointConfig) error {
	if ep == 0 && cfg != &s.d.ep0 {
		return fmt.Errorf("%w: endpoint 0 is owned by the driver", pkg.ErrInvalidEndpoint)
	}
	return s.d.initEndpoint(ep, cfg)
}

// DisableEndpoints disables every endpoint except EP0.
func (s *Section) DisableEndpoints() {
	d := s.d
	d.trace.Put('i')
	for i := 1; i < d.cfg.Endpoints; i++ {
		d.write(RegENDPT(uint8(i)), 0)
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "disabled", "count", d.cfg.Endpoints-1)
}

func (s *Section) checkEndpoint(ep uint8) error {
	if int(ep) >= s.d.cfg.Endpoints {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidEndpoint, ep)
	}
	return nil
}

// StallIn makes ep answer IN tokens with STALL. The stall bit is shared
// with the OUT direction.
func (s *Section) StallIn(ep uint8) error {
	if err := s.checkEndpoint(ep); err != nil {
		return err
	}
	s.d.trace.Put('r')
	s.d.setBits(RegENDPT(ep), EndptEPSTALL)
	return nil
}

// StallOut makes ep answer OUT tokens with STALL. The stall bit is shared
// with the IN direction.
func (s *Section) StallOut(ep uint8) error {
	if err := s.checkEndpoint(ep); err != nil {
		return err
	}
	s.d.trace.Put('q')
	s.d.setBits(RegENDPT(ep), EndptEPSTALL)
	return nil
}

// ClearIn removes the stall from ep.
func (s *Section) ClearIn(ep uint8) error {
	if err := s.checkEndpoint(ep); err != nil {
		return err
	}
	s.d.trace.Put('t')
	s.d.clearBits(RegENDPT(ep), EndptEPSTALL)
	return nil
}

// ClearOut removes the stall from ep.
func (s *Section) ClearOut(ep uint8) error {
	if err := s.checkEndpoint(ep); err != nil {
		return err
	}
	s.d.trace.Put('x')
	s.d.clearBits(RegENDPT(ep), EndptEPSTALL)
	return nil
}

func (s *Section) status(ep uint8, enable uint8) EndpointStatus {
	if int(ep) >= s.d.cfg.Endpoints {
		return EndpointDisabled
	}
	v := s.d.read(RegENDPT(ep))
	switch {
	case v&enable == 0:
		return EndpointDisabled
	case v&EndptEPSTALL != 0:
		return EndpointStalled
	default:
		return EndpointActive
	}
}

// StatusIn reports whether the IN direction of ep is disabled, stalled
// or active.
func (s *Section) StatusIn(ep uint8) EndpointStatus {
	s.d.trace.Put('k')
	return s.status(ep, EndptEPTXEN)
}

// StatusOut reports whether the OUT direction of ep is disabled, stalled
// or active.
func (s *Section) StatusOut(ep uint8) EndpointStatus {
	s.d.trace.Put('j')
	return s.status(ep, EndptEPRXEN)
}

// ReadSetup copies the SETUP packet last received on ep into buf. It is
// meant to be called from the endpoint's Setup callback. The receive buffer
// the packet arrived in has already gone back to the controller.
func (s *Section) ReadSetup(ep uint8, buf []byte) error {
	d := s.d
	if len(buf) < hal.SetupPacketSize {
		return fmt.Errorf("%w: %d bytes", pkg.ErrBufferTooSmall, len(buf))
	}
	cfg, err := d.endpoint(ep)
	if err != nil {
		return err
	}
	osp := cfg.OutState
	if osp == nil {
		return fmt.Errorf("%w: endpoint %d has no OUT state", pkg.ErrNotConfigured, ep)
	}
	d.trace.Put('l')
	copy(buf[:hal.SetupPacketSize], d.setup[:])
	return nil
}

// PrepareReceive computes how many packets the OUT transfer on ep expects
// from its RxSize. A zero-length transfer expects one packet.
func (s *Section) PrepareReceive(ep uint8) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	osp := cfg.OutState
	if osp == nil {
		return fmt.Errorf("%w: endpoint %d has no OUT state", pkg.ErrNotConfigured, ep)
	}
	s.d.trace.Put('m')
	if osp.RxSize == 0 {
		osp.RxPackets = 1
	} else {
		osp.RxPackets = (osp.RxSize + cfg.OutMaxSize - 1) / cfg.OutMaxSize
	}
	return nil
}

// PrepareTransmit is called before an IN transfer starts. The controller
// needs no preparation.
func (s *Section) PrepareTransmit(ep uint8) error {
	s.d.trace.Put('n')
	return s.checkEndpoint(ep)
}

// StartOut brings the receive descriptors of ep in line with its OUT
// state. Banks are armed with the data toggles the host will send next;
// while no transfer is pending on a non-control endpoint they stay with
// the processor, so the controller NAKs rather than accept data nobody
// has room for.
func (s *Section) StartOut(ep uint8) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	if cfg.OutState == nil {
		return fmt.Errorf("%w: endpoint %d has no OUT state", pkg.ErrNotConfigured, ep)
	}
	s.d.trace.Put('o')
	s.d.armOut(ep, cfg)
	return nil
}

// StartIn sends the first packet of the IN transfer described by ep's
// InState. Later packets are chained from the interrupt handler.
func (s *Section) StartIn(ep uint8) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	if cfg.InState == nil {
		return fmt.Errorf("%w: endpoint %d has no IN state", pkg.ErrNotConfigured, ep)
	}
	s.d.trace.Put('p')
	return s.Transmit(ep, cfg.InState.TxSize)
}

// BeginTransmit starts an IN transfer of buf on ep.
func (s *Section) BeginTransmit(ep uint8, buf []byte) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	isp := cfg.InState
	if isp == nil {
		return fmt.Errorf("%w: endpoint %d has no IN state", pkg.ErrNotConfigured, ep)
	}
	isp.TxBuf = buf
	isp.TxQueue = nil
	isp.TxSize = len(buf)
	isp.TxCount = 0
	if err := s.PrepareTransmit(ep); err != nil {
		return err
	}
	return s.StartIn(ep)
}

// BeginTransmitQueue starts an IN transfer of up to n bytes drawn from q on
// ep. The transfer is cut to what q holds when it starts.
func (s *Section) BeginTransmitQueue(ep uint8, q TxQueue, n int) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	isp := cfg.InState
	if isp == nil {
		return fmt.Errorf("%w: endpoint %d has no IN state", pkg.ErrNotConfigured, ep)
	}
	if q == nil || n < 0 {
		return fmt.Errorf("%w: queued transmit", pkg.ErrInvalidParameter)
	}
	isp.TxBuf = nil
	isp.TxQueue = q
	isp.TxSize = min(n, max(q.Len(), 0))
	isp.TxCount = 0
	if err := s.PrepareTransmit(ep); err != nil {
		return err
	}
	return s.StartIn(ep)
}

// BeginReceive starts an OUT transfer into buf on ep. The endpoint's Out
// callback runs when buf is full or the host sends a short packet.
func (s *Section) BeginReceive(ep uint8, buf []byte) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	osp := cfg.OutState
	if osp == nil {
		return fmt.Errorf("%w: endpoint %d has no OUT state", pkg.ErrNotConfigured, ep)
	}
	osp.RxBuf = buf
	osp.RxQueue = nil
	osp.RxSize = len(buf)
	osp.RxCount = 0
	if err := s.PrepareReceive(ep); err != nil {
		return err
	}
	return s.StartOut(ep)
}

// BeginReceiveQueue starts an OUT transfer of up to n bytes into q on ep.
// The transfer is cut to the room q has when it starts; a request for data
// into a full queue fails with [pkg.ErrBufferTooSmall]. Sizes that are a
// multiple of the max packet size keep the last packet from overrunning q.
func (s *Section) BeginReceiveQueue(ep uint8, q RxQueue, n int) error {
	cfg, err := s.d.endpoint(ep)
	if err != nil {
		return err
	}
	osp := cfg.OutState
	if osp == nil {
		return fmt.Errorf("%w: endpoint %d has no OUT state", pkg.ErrNotConfigured, ep)
	}
	if q == nil || n < 0 {
		return fmt.Errorf("%w: queued receive", pkg.ErrInvalidParameter)
	}
	if space := q.Space(); n > space {
		if space <= 0 {
			return fmt.Errorf("%w: endpoint %d queue full", pkg.ErrBufferTooSmall, ep)
		}
		n = space
	}
	osp.RxBuf = nil
	osp.RxQueue = q
	osp.RxSize = n
	osp.RxCount = 0
	if err := s.PrepareReceive(ep); err != nil {
		return err
	}
	return s.StartOut(ep)
}

// Configure records that the upper layer activated a configuration.
func (s *Section) Configure() error {
	return s.d.fsm.Fire(TriggerConfigure)
}

// Deconfigure records that the upper layer selected configuration 0.
func (s *Section) Deconfigure() error {
	return s.d.fsm.Fire(TriggerDeconfigure)
}

// FrameNumber returns the 11-bit number of the last start of frame.
func (s *Section) FrameNumber() uint16 {
	lo := s.d.read(RegFRMNUML)
	hi := s.d.read(RegFRMNUMH)
	return (uint16(hi&0x07) << 8) | uint16(lo)
}

// Thread-context entry points. Each acquires the section for its duration
// and must not be called from a callback.

// Reset performs a bus reset of the driver state from thread context. The
// interrupt handler does the same when the host resets the bus.
func (d *Driver) Reset() error {
	s := d.Lock()
	defer s.Unlock()
	return s.Reset()
}

// SetAddress programs the device address register.
func (d *Driver) SetAddress(addr uint8) {
	s := d.Lock()
	defer s.Unlock()
	s.SetAddress(addr)
}

// InitEndpoint enables endpoint ep as described by cfg.
func (d *Driver) InitEndpoint(ep uint8, cfg *EndpointConfig) error {
	s := d.Lock()
	defer s.Unlock()
	return s.InitEndpoint(ep, cfg)
}

// DisableEndpoints disables every endpoint except EP0.
func (d *Driver) DisableEndpoints() {
	s := d.Lock()
	defer s.Unlock()
	s.DisableEndpoints()
}

// StallIn stalls the IN direction of ep.
func (d *Driver) StallIn(ep uint8) error {
	s := d.Lock()
	defer s.Unlock()
	return s.StallIn(ep)
}

// StallOut stalls the OUT direction of ep.
func (d *Driver) StallOut(ep uint8) error {
	s := d.Lock()
	defer s.Unlock()
	return s.StallOut(ep)
}

// ClearIn clears the stall on the IN direction of ep.
func (d *Driver) ClearIn(ep uint8) error {
	s := d.Lock()
	defer s.Unlock()
	return s.ClearIn(ep)
}

// ClearOut clears the stall on the OUT direction of ep.
func (d *Driver) ClearOut(ep uint8) error {
	s := d.Lock()
	defer s.Unlock()
	return s.ClearOut(ep)
}

// StatusIn reports the status of the IN direction of ep.
func (d *Driver) StatusIn(ep uint8) EndpointStatus {
	s := d.Lock()
	defer s.Unlock()
	return s.StatusIn(ep)
}

// StatusOut reports the status of the OUT direction of ep.
func (d *Driver) StatusOut(ep uint8) EndpointStatus {
	s := d.Lock()
	defer s.Unlock()
	return s.StatusOut(ep)
}

// StartIn sends the first packet of ep's IN transfer.
func (d *Driver) StartIn(ep uint8) error {
	s := d.Lock()
	defer s.Unlock()
	return s.StartIn(ep)
}

// Configure records that the upper layer activated a configuration.
func (d *Driver) Configure() error {
	s := d.Lock()
	defer s.Unlock()
	return s.Configure()
}
