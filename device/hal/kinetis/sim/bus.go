package sim

import (
	"errors"
	"fmt"

	"github.com/ardnew/usbfs/device/hal/kinetis"
	"github.com/ardnew/usbfs/pkg"
)

// BusReset drives a USB reset onto the bus. Token statuses not yet
// serviced are discarded.
func (p *Peripheral) BusReset() {
	p.mu.Lock()
	p.stat = p.stat[:0]
	p.regs[kinetis.RegISTAT] &^= kinetis.IntTOKDNE
	p.raise(kinetis.IntUSBRST)
	p.mu.Unlock()
	pkg.LogDebug(pkg.ComponentSim, "bus reset")
	p.deliver()
}

// StartOfFrame sends an SOF token and advances the 11-bit frame number.
func (p *Peripheral) StartOfFrame() {
	p.mu.Lock()
	if !p.attached() {
		p.mu.Unlock()
		return
	}
	p.frame = (p.frame + 1) & 0x7FF
	p.regs[kinetis.RegFRMNUML] = uint8(p.frame)
	p.regs[kinetis.RegFRMNUMH] = uint8(p.frame >> 8)
	p.raise(kinetis.IntSOFTOK)
	p.mu.Unlock()
	p.deliver()
}

// Idle reports 3 ms of bus idle to the device.
func (p *Peripheral) Idle() {
	p.mu.Lock()
	p.raise(kinetis.IntSLEEP)
	p.mu.Unlock()
	p.deliver()
}

// InjectError latches ERRSTAT bits and raises the error interrupt.
func (p *Peripheral) InjectError(errstat uint8) {
	p.mu.Lock()
	p.regs[kinetis.RegERRSTAT] |= errstat
	p.raise(kinetis.IntERROR)
	p.mu.Unlock()
	p.deliver()
}

// Setup sends a SETUP transaction carrying the 8-byte packet to endpoint
// ep of the device at addr.
func (p *Peripheral) Setup(addr, ep uint8, packet [8]byte) error {
	p.mu.Lock()
	err := p.receive(addr, ep, kinetis.PIDSetup, kinetis.DATA0, packet[:])
	if err == nil {
		p.stats.Setups++
		// The controller stops processing tokens until firmware clears
		// TXSUSPENDTOKENBUSY.
		p.regs[kinetis.RegCTL] |= kinetis.CtlTXSUSPENDTOKENBUSY
	}
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("SETUP ep%d: %w", ep, err)
	}
	p.deliver()
	return nil
}

// Out sends an OUT transaction carrying data with the given toggle.
func (p *Peripheral) Out(addr, ep uint8, toggle kinetis.Toggle, data []byte) error {
	p.mu.Lock()
	err := p.receive(addr, ep, kinetis.PIDOut, toggle, data)
	if err == nil {
		p.stats.Outs++
	}
	p.mu.Unlock()
	if err != nil {
		p.deliverStall(err)
		return fmt.Errorf("OUT ep%d: %w", ep, err)
	}
	p.deliver()
	return nil
}

// In sends an IN token and returns the data packet and its toggle.
func (p *Peripheral) In(addr, ep uint8) ([]byte, kinetis.Toggle, error) {
	p.mu.Lock()
	data, toggle, err := p.transmit(addr, ep)
	if err == nil {
		p.stats.Ins++
	}
	p.mu.Unlock()
	if err != nil {
		p.deliverStall(err)
		return nil, 0, fmt.Errorf("IN ep%d: %w", ep, err)
	}
	p.deliver()
	return data, toggle, nil
}

// accept checks everything that decides whether the controller answers a
// token at all, then whether it can process it now. p.mu must be held.
func (p *Peripheral) accept(addr, ep uint8, enable uint8, pid kinetis.PID) error {
	if !p.attached() || int(ep) >= kinetis.MaxEndpoints {
		return ErrNoDevice
	}
	if kinetis.AddrADDR.Get(p.regs[kinetis.RegADDR]) != addr {
		return ErrNoDevice
	}
	endpt := p.regs[kinetis.RegENDPT(ep)]
	if endpt&enable == 0 {
		return ErrNoDevice
	}
	if pid == kinetis.PIDSetup {
		if endpt&kinetis.EndptEPCTLDIS != 0 {
			return ErrNoDevice
		}
		// SETUP is always accepted on a control endpoint and clears a
		// protocol stall.
		p.regs[kinetis.RegENDPT(ep)] &^= kinetis.EndptEPSTALL
	} else if endpt&kinetis.EndptEPSTALL != 0 {
		p.stats.Stalls++
		p.raise(kinetis.IntSTALL)
		return ErrStall
	}
	if p.regs[kinetis.RegCTL]&kinetis.CtlTXSUSPENDTOKENBUSY != 0 || len(p.stat) >= statDepth {
		p.stats.NAKs++
		return ErrNAK
	}
	return nil
}

// receive runs the DMA side of a SETUP or OUT transaction. p.mu must be held.
func (p *Peripheral) receive(addr, ep uint8, pid kinetis.PID, toggle kinetis.Toggle, data []byte) error {
	if err := p.accept(addr, ep, kinetis.EndptEPRXEN, pid); err != nil {
		return err
	}
	t := p.table()
	if t == nil || int(ep) >= t.Endpoints() {
		return ErrNoDevice
	}
	b := p.bank(ep, kinetis.RX)
	bd := t.At(ep, kinetis.RX, b)
	w := bd.Load()
	if w&kinetis.DescOWN == 0 {
		p.stats.NAKs++
		return ErrNAK
	}
	if w&kinetis.DescSTALL != 0 {
		p.stats.Stalls++
		p.raise(kinetis.IntSTALL)
		return ErrStall
	}
	// With data toggle synchronization on, a DATA PID other than the one
	// the descriptor expects is acknowledged and discarded. SETUP always
	// carries DATA0 and is never checked.
	if pid != kinetis.PIDSetup && w&kinetis.DescDTS != 0 {
		if want := kinetis.Toggle(kinetis.DescData.Get(w)); toggle != want {
			p.stats.ToggleErrors++
			pkg.LogWarn(pkg.ComponentSim, "data toggle mismatch",
				"ep", ep, "bank", b, "bd", want.String(), "host", toggle.String())
			return nil
		}
	}
	if len(data) > int(kinetis.DescBC.Get(w)) {
		return ErrBabble
	}
	mem, err := p.memory(bd.Addr(), len(data))
	if err != nil {
		return err
	}
	copy(mem, data)

	p.complete(bd, ep, kinetis.RX, b, pid, toggle, len(data))
	return nil
}

// transmit runs the DMA side of an IN transaction. p.mu must be held.
func (p *Peripheral) transmit(addr, ep uint8) ([]byte, kinetis.Toggle, error) {
	if err := p.accept(addr, ep, kinetis.EndptEPTXEN, kinetis.PIDIn); err != nil {
		return nil, 0, err
	}
	t := p.table()
	if t == nil || int(ep) >= t.Endpoints() {
		return nil, 0, ErrNoDevice
	}
	b := p.bank(ep, kinetis.TX)
	bd := t.At(ep, kinetis.TX, b)
	w := bd.Load()
	if w&kinetis.DescOWN == 0 {
		p.stats.NAKs++
		return nil, 0, ErrNAK
	}
	if w&kinetis.DescSTALL != 0 {
		p.stats.Stalls++
		p.raise(kinetis.IntSTALL)
		return nil, 0, ErrStall
	}
	n := int(kinetis.DescBC.Get(w))
	mem, err := p.memory(bd.Addr(), n)
	if err != nil {
		return nil, 0, err
	}
	data := append([]byte(nil), mem...)
	toggle := kinetis.Toggle(kinetis.DescData.Get(w))

	p.complete(bd, ep, kinetis.TX, b, kinetis.PIDIn, toggle, n)
	return data, toggle, nil
}

// complete hands bd back to the processor with the token written back,
// advances the ping-pong pointer and queues the token-done status.
func (p *Peripheral) complete(bd *kinetis.Descriptor, ep uint8, dir kinetis.Direction, b kinetis.Bank,
	pid kinetis.PID, toggle kinetis.Toggle, n int,
) {
	var w uint32
	w = kinetis.DescBC.Set(w, uint32(n))
	w = kinetis.DescPID.Set(w, uint32(pid))
	w = kinetis.DescData.Set(w, uint32(toggle))
	bd.Store(w)

	p.flip(ep, dir)
	p.stat = append(p.stat, kinetis.Stat(ep, dir, b))
	p.raise(kinetis.IntTOKDNE)

	pkg.LogDebug(pkg.ComponentSim, "token done",
		"ep", ep, "dir", dir.String(), "bank", b, "pid", pid.String(), "n", n)
}

// deliverStall services the STALL interrupt raised while rejecting a token.
func (p *Peripheral) deliverStall(err error) {
	if errors.Is(err, ErrStall) {
		p.deliver()
	}
}
