package kinetis

import (
	"errors"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/pkg"
)

// ServeInterrupt is the USB0 interrupt handler. It holds the section for
// its whole run and services, in order: start of frame, every completed
// token, bus reset, stall, error and sleep.
func (d *Driver) ServeInterrupt() {
	d.section.Lock()
	defer d.section.Unlock()

	s := &d.section
	istat := d.read(RegISTAT) & d.read(RegINTEN)

	if istat&IntSOFTOK != 0 {
		d.listener.SOF(s)
		d.write(RegISTAT, IntSOFTOK)
	}

	for istat&IntTOKDNE != 0 {
		d.trace.Put('|')
		stat := d.read(RegSTAT)
		ep := StatENDP.Get(stat)
		if int(ep) >= d.cfg.Endpoints {
			d.trace.Put('=')
			pkg.LogDebug(pkg.ComponentISR, "token for unserved endpoint", "ep", ep)
			return
		}
		d.token(s, ep, Direction(StatTX.Get(stat)), Bank(StatODD.Get(stat)))
		d.write(RegISTAT, IntTOKDNE)
		d.write(RegCTL, CtlUSBENSOFEN)
		istat = d.read(RegISTAT) & d.read(RegINTEN)
	}

	if istat&IntUSBRST != 0 {
		d.trace.Put('c')
		if err := d.reset(); err != nil {
			pkg.LogError(pkg.ComponentISR, "bus reset", "error", err)
		}
		d.listener.Event(s, hal.EventReset)
		d.write(RegISTAT, IntUSBRST)
		return
	}

	if istat&IntSTALL != 0 {
		d.trace.Put('d')
		d.write(RegISTAT, IntSTALL)
	}

	if istat&IntERROR != 0 {
		d.trace.Put('e')
		errstat := d.read(RegERRSTAT)
		d.write(RegERRSTAT, errstat)
		d.write(RegISTAT, IntERROR)
		if err := LinkError(errstat); err != nil {
			pkg.LogWarn(pkg.ComponentISR, "link error",
				"errstat", errstat, "error", err)
		}
	}

	if istat&IntSLEEP != 0 {
		d.trace.Put('f')
		d.write(RegISTAT, IntSLEEP)
	}
}

// token services one completed transaction.
func (d *Driver) token(s *Section, ep uint8, dir Direction, bank Bank) {
	d.followBank(ep, dir, bank)
	cfg := d.epc[ep]
	if cfg == nil {
		pkg.LogDebug(pkg.ComponentISR, "token for disabled endpoint", "ep", ep)
		return
	}
	bd := d.table.At(ep, dir, bank)

	// The controller chooses the receive bank; follow it.
	if dir == RX && cfg.OutState != nil {
		cfg.OutState.bank = bank
	}

	d.trace.Put(' ')
	d.trace.Put('0' + ep)

	switch pid := bd.TokenPID(); pid {
	case PIDSetup:
		d.tokenSetup(s, ep, cfg)
	case PIDIn:
		d.tokenIn(s, ep, cfg, bd)
	case PIDOut:
		d.tokenOut(s, ep, cfg, bd)
	default:
		d.trace.Put('$')
		pkg.LogDebug(pkg.ComponentISR, "unknown token", "ep", ep, "pid", pid.String())
	}
}

func (d *Driver) tokenSetup(s *Section, ep uint8, cfg *EndpointConfig) {
	d.trace.Put('s')

	// The data or status stage that follows a SETUP starts with DATA1 in
	// both directions. Token processing stays suspended until the handler
	// returns, so both receive banks can be rearmed for it.
	osp := cfg.OutState
	if osp != nil {
		copy(d.setup[:], d.table.Buffer(Index(ep, RX, osp.bank)))
		osp.bank = osp.bank.Flip()
		osp.toggle = DATA1
		osp.armed = 0
		osp.RxPackets = 0
	}

	// A SETUP also cancels whatever IN data was pending.
	d.table.clearTX(ep)
	if isp := cfg.InState; isp != nil {
		isp.bank = d.nextBank(ep, TX)
		isp.toggle = DATA1
	}

	if cfg.Setup != nil {
		cfg.Setup(s, ep)
	}

	if osp != nil {
		d.armOut(ep, cfg)
	}
}

func (d *Driver) tokenIn(s *Section, ep uint8, cfg *EndpointConfig, bd *Descriptor) {
	isp := cfg.InState
	if isp == nil {
		return
	}

	// The status stage of SET_ADDRESS has been acknowledged; only now may
	// the new address take effect.
	if ep == 0 && hal.IsSetAddress(d.setup[:]) {
		d.trace.Put('a')
		addr := d.setup[2]
		d.setup[1] = 0
		s.SetAddress(addr)
		d.listener.Event(s, hal.EventAddress)
		trigger := TriggerAddress
		if d.address == 0 {
			trigger = TriggerUnaddress
		}
		if err := d.fsm.Fire(trigger); err != nil {
			pkg.LogWarn(pkg.ComponentISR, "address latch", "error", err)
		}
	}

	d.trace.Put('>')
	txed := bd.ByteCount()
	isp.TxCount += txed
	if isp.TxCount < isp.TxSize {
		d.trace.Put('+')
		if isp.TxQueue == nil {
			isp.TxBuf = isp.TxBuf[min(txed, len(isp.TxBuf)):]
		}
		if err := s.Transmit(ep, isp.TxSize-isp.TxCount); err != nil {
			pkg.LogError(pkg.ComponentISR, "chain transmit", "ep", ep, "error", err)
		}
		return
	}

	d.trace.Put(')')
	if cfg.In != nil {
		cfg.In(s, ep)
	}
}

func (d *Driver) tokenOut(s *Section, ep uint8, cfg *EndpointConfig, bd *Descriptor) {
	osp := cfg.OutState
	if osp == nil {
		return
	}

	d.trace.Put('<')
	if err := s.Receive(ep, bd.ByteCount()); err != nil {
		pkg.LogError(pkg.ComponentISR, "receive", "ep", ep, "error", err)
		return
	}

	// Receive ends the transfer on a short packet, and a zero-length
	// packet is short.
	if osp.RxPackets <= 0 {
		d.trace.Put('(')
		if cfg.Out != nil {
			cfg.Out(s, ep)
		}
	}
}

// LinkError decodes an ERRSTAT value into the link errors it reports,
// joined with errors.Join. It returns nil when no error bit is set.
func LinkError(errstat uint8) error {
	var errs []error
	for _, e := range linkErrors {
		if errstat&e.bit != 0 {
			errs = append(errs, e.err)
		}
	}
	return errors.Join(errs...)
}

var linkErrors = [...]struct {
	bit uint8
	err error
}{
	{ErrPIDERR, pkg.ErrPID},
	{ErrCRC5EOF, pkg.ErrCRC5},
	{ErrCRC16, pkg.ErrCRC16},
	{ErrDFN8, pkg.ErrDataFormat},
	{ErrBTOERR, pkg.ErrBusTurnaround},
	{ErrDMAERR, pkg.ErrDMA},
	{ErrBTSERR, pkg.ErrBitStuff},
}
