package kinetis_test

import (
	"testing"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/device/hal/kinetis"
	"github.com/ardnew/usbfs/device/hal/kinetis/sim"
	"github.com/ardnew/usbfs/device/queue"
)

const (
	bulkEP     = 1
	bulkPacket = 64
)

// gadget is the smallest control stack that can be enumerated: it answers
// GET_DESCRIPTOR with a fixed blob, SET_ADDRESS and SET_CONFIGURATION with
// a status stage, and stalls everything else. Configuration 1 enables a
// bulk endpoint pair on EP1.
//
// Every field is touched with the driver's section held.
type gadget struct {
	port *sim.Peripheral

	descriptor []byte
	setup      [hal.SetupPacketSize]byte
	setupErr   error

	addrDuringSetup []uint8
	events          []hal.Event
	sofs            int
	stalls          int

	ep1    kinetis.EndpointConfig
	ep1in  kinetis.InState
	ep1out kinetis.OutState

	rx       []byte
	outDone  int
	outCount int
	inDone   int

	tx     *queue.Output
	txBusy bool
}

func newGadget(port *sim.Peripheral, descriptor []byte) *gadget {
	g := &gadget{port: port, descriptor: descriptor, rx: make([]byte, 512)}
	g.ep1 = kinetis.EndpointConfig{
		Type:       hal.EndpointTypeBulk,
		In:         g.bulkIn,
		Out:        g.bulkOut,
		InMaxSize:  bulkPacket,
		OutMaxSize: bulkPacket,
		InState:    &g.ep1in,
		OutState:   &g.ep1out,
	}
	return g
}

func (g *gadget) Setup(s *kinetis.Section, ep uint8) {
	if g.setupErr = s.ReadSetup(ep, g.setup[:]); g.setupErr != nil {
		return
	}
	var req hal.SetupPacket
	hal.ParseSetupPacket(g.setup[:], &req)

	switch {
	case req.Request == hal.RequestGetDescriptor && req.IsDeviceToHost():
		n := min(int(req.Length), len(g.descriptor))
		g.setupErr = s.BeginTransmit(ep, g.descriptor[:n])

	case req.Request == hal.RequestSetAddress && !req.IsDeviceToHost():
		g.addrDuringSetup = append(g.addrDuringSetup, g.port.Register(kinetis.RegADDR))
		g.setupErr = s.BeginTransmit(ep, nil)

	case req.Request == hal.RequestSetConfiguration && !req.IsDeviceToHost():
		if req.Value == 1 {
			if g.setupErr = s.InitEndpoint(bulkEP, &g.ep1); g.setupErr != nil {
				return
			}
			if g.setupErr = s.Configure(); g.setupErr != nil {
				return
			}
			g.txBusy = false
		}
		g.setupErr = s.BeginTransmit(ep, nil)

	default:
		g.stalls++
		_ = s.StallIn(ep)
		_ = s.StallOut(ep)
	}
}

func (g *gadget) In(s *kinetis.Section, ep uint8)  {}
func (g *gadget) Out(s *kinetis.Section, ep uint8) {}

func (g *gadget) Event(s *kinetis.Section, ev hal.Event) {
	g.events = append(g.events, ev)
	if ev == hal.EventReset && g.tx != nil {
		g.tx.Reset()
		g.txBusy = false
	}
}

func (g *gadget) SOF(s *kinetis.Section) { g.sofs++ }

func (g *gadget) bulkOut(s *kinetis.Section, ep uint8) {
	g.outDone++
	g.outCount = g.ep1out.RxCount
}

func (g *gadget) bulkIn(s *kinetis.Section, ep uint8) {
	g.inDone++
	g.txBusy = false
	if g.tx != nil {
		g.kick(s)
	}
}

// kick starts an IN transfer of whatever the output queue holds.
func (g *gadget) kick(s *kinetis.Section) {
	if g.txBusy || g.tx.Len() == 0 || s.State() != kinetis.StateActive {
		return
	}
	g.txBusy = true
	if err := s.BeginTransmitQueue(bulkEP, g.tx, g.tx.Len()); err != nil {
		g.txBusy = false
	}
}

// attachQueue routes writes to q into IN transfers on the bulk endpoint.
func (g *gadget) attachQueue(d *kinetis.Driver, size int) *queue.Output {
	g.tx = queue.NewOutput(size, d.Section(), func(*queue.Output) {
		g.kick(d.Section())
	})
	return g.tx
}

// bench is a started driver on a simulated controller, with a host.
type bench struct {
	port *sim.Peripheral
	host *sim.Host
	drv  *kinetis.Driver
	g    *gadget
}

func deviceDescriptor(n int) []byte {
	b := make([]byte, n)
	b[0] = byte(n)
	b[1] = 0x01
	for i := 2; i < n; i++ {
		b[i] = byte(i * 7)
	}
	return b
}

func newBench(t *testing.T, cfg kinetis.Config) *bench {
	t.Helper()
	port := sim.New(sim.DefaultOptions())
	g := newGadget(port, deviceDescriptor(18))
	d, err := kinetis.New(port, g, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	host := sim.NewHost(port)
	host.Retries = 200
	host.Reset()
	t.Cleanup(func() {
		if err := d.Shutdown(); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return &bench{port: port, host: host, drv: d, g: g}
}

// enumerate addresses and configures the device.
func (b *bench) enumerate(t *testing.T, addr uint8) {
	t.Helper()
	if _, err := b.host.ControlIn(getDescriptor(18)); err != nil {
		t.Fatalf("GET_DESCRIPTOR error = %v", err)
	}
	if err := b.host.SetAddress(addr); err != nil {
		t.Fatalf("SET_ADDRESS error = %v", err)
	}
	if err := b.host.SetConfiguration(1); err != nil {
		t.Fatalf("SET_CONFIGURATION error = %v", err)
	}
}

// locked runs fn with the driver's section held.
func (b *bench) locked(fn func(s *kinetis.Section)) {
	s := b.drv.Lock()
	defer s.Unlock()
	fn(s)
}

func getDescriptor(length uint16) hal.SetupPacket {
	return hal.SetupPacket{
		RequestType: hal.RequestDirectionDeviceToHost | hal.RequestTypeStandard | hal.RequestRecipientDevice,
		Request:     hal.RequestGetDescriptor,
		Value:       0x0100,
		Length:      length,
	}
}
