package loopback

import (
	"context"
	"errors"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/device/hal/kinetis"
	"github.com/ardnew/usbfs/device/queue"
	"github.com/ardnew/usbfs/pkg"
)

const component = pkg.ComponentGadget

var errUnsupported = errors.New("unsupported request")

// Gadget is the loopback gadget. It implements [kinetis.Listener].
//
// Fields other than the queues are touched only with the driver's section
// held.
type Gadget struct {
	desc  Descriptors
	setup [hal.SetupPacketSize]byte
	reply [2]byte

	config uint8
	ep     kinetis.EndpointConfig
	in     kinetis.InState
	out    kinetis.OutState

	rx     *queue.Input
	tx     *queue.Output
	rxBusy bool
	txBusy bool

	resets int
}

// New returns an unconfigured gadget serving [BuildDescriptors].
func New() *Gadget {
	g := &Gadget{desc: BuildDescriptors()}
	g.ep = kinetis.EndpointConfig{
		Type:       hal.EndpointTypeBulk,
		In:         g.bulkIn,
		Out:        g.bulkOut,
		InMaxSize:  PacketSize,
		OutMaxSize: PacketSize,
		InState:    &g.in,
		OutState:   &g.out,
	}
	return g
}

// Attach creates the data queues, size bytes each, guarded by d's
// section. It must be called before d is started.
func (g *Gadget) Attach(d *kinetis.Driver, size int) {
	g.rx = queue.NewInput(size, d.Section(), func(*queue.Input) {
		g.startRx(d.Section())
	})
	g.tx = queue.NewOutput(size, d.Section(), func(*queue.Output) {
		g.startTx(d.Section())
	})
}

// Config returns the active configuration value, 0 when unconfigured.
// The section must be held.
func (g *Gadget) Config() uint8 { return g.config }

// Resets returns the number of bus resets seen. The section must be held.
func (g *Gadget) Resets() int { return g.resets }

func (g *Gadget) Setup(s *kinetis.Section, ep uint8) {
	if err := s.ReadSetup(ep, g.setup[:]); err != nil {
		pkg.LogWarn(component, "read setup", "error", err)
		return
	}
	var req hal.SetupPacket
	hal.ParseSetupPacket(g.setup[:], &req)

	if err := g.request(s, ep, &req); err != nil {
		pkg.LogDebug(component, "stall", "request", req.String(), "error", err)
		_ = s.StallIn(ep)
		_ = s.StallOut(ep)
	}
}

func (g *Gadget) request(s *kinetis.Section, ep uint8, req *hal.SetupPacket) error {
	if req.RequestType&hal.RequestTypeMask != hal.RequestTypeStandard {
		return errUnsupported
	}

	switch req.Request {
	case hal.RequestGetDescriptor:
		b, ok := g.desc[req.Value]
		if !ok {
			return errUnsupported
		}
		return s.BeginTransmit(ep, b[:min(len(b), int(req.Length))])

	case hal.RequestSetAddress:
		// The driver latches the address once this status stage is acked.
		return s.BeginTransmit(ep, nil)

	case hal.RequestSetConfiguration:
		if err := g.configure(s, uint8(req.Value)); err != nil {
			return err
		}
		return s.BeginTransmit(ep, nil)

	case hal.RequestGetConfiguration:
		g.reply[0] = g.config
		return s.BeginTransmit(ep, g.reply[:1])

	case hal.RequestGetStatus:
		g.reply = [2]byte{}
		return s.BeginTransmit(ep, g.reply[:min(2, int(req.Length))])
	}
	return errUnsupported
}

func (g *Gadget) configure(s *kinetis.Section, v uint8) error {
	switch v {
	case 0:
		s.DisableEndpoints()
		g.config = 0
		g.rxBusy, g.txBusy = false, false
		if s.State() == kinetis.StateActive {
			return s.Deconfigure()
		}
		return nil
	case ConfigValue:
		if err := s.InitEndpoint(BulkEP, &g.ep); err != nil {
			return err
		}
		if err := s.Configure(); err != nil {
			return err
		}
		g.config = v
		g.rxBusy, g.txBusy = false, false
		g.startRx(s)
		g.startTx(s)
		return nil
	}
	return errUnsupported
}

func (g *Gadget) In(s *kinetis.Section, ep uint8)  {}
func (g *Gadget) Out(s *kinetis.Section, ep uint8) {}

func (g *Gadget) Event(s *kinetis.Section, ev hal.Event) {
	pkg.LogDebug(component, "bus event", "event", ev.String())
	if ev != hal.EventReset {
		return
	}
	g.resets++
	g.config = 0
	g.rxBusy, g.txBusy = false, false
	if g.rx != nil {
		g.rx.Reset()
		g.tx.Reset()
	}
}

func (g *Gadget) SOF(s *kinetis.Section) {}

// startRx receives into rx while it has room for whole packets.
func (g *Gadget) startRx(s *kinetis.Section) {
	if g.rxBusy || g.config == 0 {
		return
	}
	n := g.rx.Space() / PacketSize * PacketSize
	if n == 0 {
		return
	}
	g.rxBusy = true
	if err := s.BeginReceiveQueue(BulkEP, g.rx, n); err != nil {
		g.rxBusy = false
		pkg.LogWarn(component, "start receive", "error", err)
	}
}

// startTx sends whatever tx holds unless a transfer is already running.
func (g *Gadget) startTx(s *kinetis.Section) {
	if g.txBusy || g.config == 0 || g.tx.Len() == 0 {
		return
	}
	g.txBusy = true
	if err := s.BeginTransmitQueue(BulkEP, g.tx, g.tx.Len()); err != nil {
		g.txBusy = false
		pkg.LogWarn(component, "start transmit", "error", err)
	}
}

func (g *Gadget) bulkOut(s *kinetis.Section, ep uint8) {
	g.rxBusy = false
	g.startRx(s)
}

func (g *Gadget) bulkIn(s *kinetis.Section, ep uint8) {
	g.txBusy = false
	g.startTx(s)
}

// Echo copies received bytes to the IN endpoint until ctx is done, which
// is a clean stop. A bus reset drops the bytes in flight and echoing
// carries on.
func (g *Gadget) Echo(ctx context.Context) error {
	buf := make([]byte, PacketSize)
	for {
		n, err := g.rx.Read(ctx, buf)
		if err == nil {
			_, err = g.tx.Write(ctx, buf[:n])
		}
		switch {
		case err == nil, queue.IsReset(err):
		case errors.Is(err, pkg.ErrCancelled):
			return nil
		default:
			return err
		}
	}
}
