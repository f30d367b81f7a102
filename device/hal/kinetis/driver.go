package kinetis

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/pkg"
)

// Config holds the build-time options of the driver.
type Config struct {
	// Endpoints is the number of endpoints served, EP0 included.
	Endpoints int

	// IRQPriority is the USB0 interrupt priority in the interrupt controller.
	IRQPriority uint8

	// ResetSpin bounds the number of USBTRC0 polls while waiting for the
	// module reset to self-clear.
	ResetSpin int

	// Trace receives single-character driver events. Nil disables tracing.
	Trace *Trace
}

// DefaultConfig returns the configuration used by the KL2x boards.
func DefaultConfig() Config {
	return Config{
		Endpoints:   MaxEndpoints,
		IRQPriority: 2,
		ResetSpin:   1000,
	}
}

func (c Config) validate() error {
	if c.Endpoints < 1 || c.Endpoints > MaxEndpoints {
		return fmt.Errorf("%w: endpoint count %d not in 1..%d",
			pkg.ErrInvalidParameter, c.Endpoints, MaxEndpoints)
	}
	if c.ResetSpin < 1 {
		return fmt.Errorf("%w: reset spin %d", pkg.ErrInvalidParameter, c.ResetSpin)
	}
	return nil
}

// usbtrc0Reserved must be written as 1 whenever USBTRC0 is written.
const usbtrc0Reserved uint8 = 1 << 6

// Driver is the USB-FS low-level driver for one USB0 instance.
//
// Every field below section is guarded by it. The port supplies the
// critical section. The interrupt handler holds it for its whole run, and
// callbacks receive the held [Section] so they can drive the endpoints
// without locking again.
type Driver struct {
	port     Port
	listener Listener
	cfg      Config
	trace    *Trace

	section Section

	table *Table
	pool  *Pool
	epc   []*EndpointConfig

	// Mirror of the controller's ping-pong pointers, one bit per endpoint
	// direction indexed by ep<<1|dir. Set means odd bank next.
	odd bitmap.Bitmap

	ep0    EndpointConfig
	ep0in  InState
	ep0out OutState

	setup   [hal.SetupPacketSize]byte
	address uint8
	fsm     Machine
}

// New returns a driver for the USB0 instance behind port. Control endpoint
// notifications and bus events go to l. The hardware is not touched until
// Start.
func New(port Port, l Listener, cfg Config) (*Driver, error) {
	if port == nil || l == nil {
		return nil, fmt.Errorf("%w: nil port or listener", pkg.ErrInvalidParameter)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		port:     port,
		listener: l,
		cfg:      cfg,
		trace:    cfg.Trace,
	}
	d.section.d = d
	d.Init()
	return d, nil
}

// Init returns the driver object to its power-on state. It must not be
// called while the driver is started.
func (d *Driver) Init() {
	d.section.Lock()
	defer d.section.Unlock()

	d.table = NewTable(d.cfg.Endpoints)
	d.pool = NewPool(d.port, d.cfg.Endpoints*4)
	d.epc = make([]*EndpointConfig, d.cfg.Endpoints)
	d.odd = bitmap.New(d.cfg.Endpoints * 2)
	d.ep0in.reset()
	d.ep0out.reset()
	d.ep0 = EndpointConfig{
		Type:       hal.EndpointTypeControl,
		Setup:      d.listener.Setup,
		In:         d.listener.In,
		Out:        d.listener.Out,
		InMaxSize:  PacketSize,
		OutMaxSize: PacketSize,
		InState:    &d.ep0in,
		OutState:   &d.ep0out,
	}
	d.setup = [hal.SetupPacketSize]byte{}
	d.address = 0
	d.fsm.force(StateStopped)
}

// Start brings up the peripheral: clock on, module reset, descriptor table
// installed, USB enabled with only the bus reset interrupt, D+ pull-up on.
// The remaining interrupts are enabled by the first bus reset.
func (d *Driver) Start() error {
	if err := d.start(); err != nil {
		pkg.LogError(pkg.ComponentLLD, "start failed", "error", err)
		return err
	}
	d.port.EnableIRQ(d.ServeInterrupt, d.cfg.IRQPriority)
	d.section.Lock()
	d.write(RegCONTROL, ControlDPPULLUPNONOTG)
	d.section.Unlock()
	pkg.LogInfo(pkg.ComponentLLD, "started",
		"endpoints", d.cfg.Endpoints, "priority", d.cfg.IRQPriority)
	return nil
}

func (d *Driver) start() error {
	d.section.Lock()
	defer d.section.Unlock()

	if !d.fsm.Can(TriggerStart) {
		return fmt.Errorf("%w: start in %s", pkg.ErrInvalidState, d.fsm.State())
	}

	d.trace.Put('U')
	d.trace.Put('S')
	d.trace.Put('!')
	d.trace.Put('\n')

	base := d.port.MapTable(d.table)
	if base%TableAlign != 0 {
		return fmt.Errorf("%w: 0x%08X", pkg.ErrMisaligned, base)
	}
	d.table.Reset()

	d.port.EnableClock()
	d.write(RegUSBTRC0, USBTRC0USBRESET)
	if err := d.waitModuleReset(); err != nil {
		return err
	}

	d.write(RegBDTPAGE1, uint8(base>>8))
	d.write(RegBDTPAGE2, uint8(base>>16))
	d.write(RegBDTPAGE3, uint8(base>>24))

	d.write(RegISTAT, 0xFF)
	d.write(RegERRSTAT, 0xFF)
	d.write(RegOTGISTAT, 0xFF)

	d.write(RegUSBTRC0, usbtrc0Reserved)
	d.write(RegCTL, CtlODDRST|CtlUSBENSOFEN)
	d.resetBanks()
	d.write(RegUSBCTRL, 0)
	d.write(RegINTEN, IntUSBRST)

	return d.fsm.Fire(TriggerStart)
}

func (d *Driver) waitModuleReset() error {
	for i := 0; i < d.cfg.ResetSpin; i++ {
		if !d.hasBits(RegUSBTRC0, USBTRC0USBRESET) {
			return nil
		}
	}
	return fmt.Errorf("%w: USBTRC0 reset did not clear after %d polls",
		pkg.ErrTimeout, d.cfg.ResetSpin)
}

// Stop masks the USB0 interrupt line once the driver has been shut down.
// It has no effect on a running driver; see Shutdown.
func (d *Driver) Stop() {
	d.section.Lock()
	stopped := d.fsm.State() == StateStopped
	d.section.Unlock()
	if stopped {
		d.port.DisableIRQ()
		pkg.LogDebug(pkg.ComponentLLD, "interrupt disabled")
	}
}

// Shutdown detaches from the bus and stops the driver from any state:
// pull-up off, interrupts off, USB disabled, then Stop.
func (d *Driver) Shutdown() error {
	d.section.Lock()
	if d.fsm.State() == StateStopped {
		d.section.Unlock()
		d.Stop()
		return nil
	}
	d.write(RegCONTROL, 0)
	d.write(RegINTEN, 0)
	d.write(RegERREN, 0)
	d.write(RegCTL, 0)
	d.write(RegISTAT, 0xFF)
	for i := range d.epc {
		d.epc[i] = nil
		d.write(RegENDPT(uint8(i)), 0)
	}
	err := d.fsm.Fire(TriggerStop)
	d.section.Unlock()

	d.Stop()
	pkg.LogInfo(pkg.ComponentLLD, "shut down")
	return err
}

// reset restores the state a bus reset produces: every endpoint but EP0
// forgotten, pool rewound, EP0 armed for SETUP, address 0, all driver
// interrupts enabled.
func (d *Driver) reset() error {
	if d.fsm.State() == StateStopped {
		return fmt.Errorf("%w: reset in %s", pkg.ErrInvalidState, d.fsm.State())
	}
	d.trace.Put('#')

	d.write(RegCTL, CtlODDRST)
	d.resetBanks()

	d.table.Reset()
	d.pool.Rewind()
	for i := range d.epc {
		d.epc[i] = nil
		if i > 0 {
			d.write(RegENDPT(uint8(i)), 0)
		}
	}
	d.ep0in.reset()
	d.ep0out.reset()
	d.setup = [hal.SetupPacketSize]byte{}

	if err := d.initEndpoint(0, &d.ep0); err != nil {
		return err
	}

	d.write(RegERRSTAT, 0xFF)
	d.write(RegISTAT, 0xFF)

	d.address = 0
	d.write(RegADDR, 0)

	d.write(RegERREN, 0xFF)
	d.write(RegINTEN, IntAll)
	d.write(RegCTL, CtlUSBENSOFEN)

	pkg.LogDebug(pkg.ComponentLLD, "reset", "state", d.fsm.State().String())
	return d.fsm.Fire(TriggerBusReset)
}

func (d *Driver) endpoint(ep uint8) (*EndpointConfig, error) {
	if int(ep) >= len(d.epc) {
		return nil, fmt.Errorf("%w: %d", pkg.ErrInvalidEndpoint, ep)
	}
	cfg := d.epc[ep]
	if cfg == nil {
		return nil, fmt.Errorf("%w: endpoint %d", pkg.ErrNotConfigured, ep)
	}
	return cfg, nil
}

// initEndpoint binds packet buffers to ep's descriptors, returns them all
// to the processor and enables the endpoint in ENDPT. A control endpoint
// gets both receive banks armed at once so a SETUP is always accepted; any
// other endpoint NAKs OUT tokens until a transfer starts. Buffers already
// bound to a descriptor since the last reset are reused, so a host that
// reselects the same configuration does not drain the pool.
func (d *Driver) initEndpoint(ep uint8, cfg *EndpointConfig) error {
	if int(ep) >= len(d.epc) {
		return fmt.Errorf("%w: %d", pkg.ErrInvalidEndpoint, ep)
	}
	if cfg == nil || !cfg.validate() {
		return fmt.Errorf("%w: endpoint %d config", pkg.ErrInvalidParameter, ep)
	}

	d.trace.Put('h')
	d.trace.Hex(ep)

	d.epc[ep] = cfg

	if osp := cfg.OutState; osp != nil {
		osp.bank = d.nextBank(ep, RX)
		osp.toggle = DATA0
		osp.armed = 0
		osp.RxPackets = 0
		for _, b := range [...]Bank{Even, Odd} {
			i := Index(ep, RX, b)
			d.bind(i)
			d.table.Entry(i).Clear()
		}
		if cfg.Type == hal.EndpointTypeControl {
			d.armOut(ep, cfg)
		}
	}
	if isp := cfg.InState; isp != nil {
		isp.bank = d.nextBank(ep, TX)
		isp.toggle = DATA0
		for _, b := range [...]Bank{Even, Odd} {
			i := Index(ep, TX, b)
			d.bind(i)
			d.table.Entry(i).Clear()
		}
	}

	d.write(RegENDPT(ep), cfg.endpt())
	pkg.LogDebug(pkg.ComponentEndpoint, "init",
		"ep", ep, "type", cfg.Type.String(),
		"in", cfg.InMaxSize, "out", cfg.OutMaxSize)
	return nil
}

func (d *Driver) bind(i int) {
	if d.table.Bound(i) {
		return
	}
	if d.pool.Used() == d.pool.Cap() {
		d.trace.Put('z')
	}
	buf, addr := d.pool.Alloc()
	d.table.Bind(i, buf, addr)
}

// armOut hands receive descriptors of ep to the controller until as many
// are armed as the endpoint needs. A control endpoint always needs both. Any
// other endpoint needs one per packet its transfer still expects, at most
// two. Slot k past the next bank gets the k-th following data toggle.
func (d *Driver) armOut(ep uint8, cfg *EndpointConfig) {
	osp := cfg.OutState
	want := 2
	if cfg.Type != hal.EndpointTypeControl {
		want = min(max(osp.RxPackets, 0), 2)
	}
	for ; osp.armed < want; osp.armed++ {
		k := osp.armed
		i := Index(ep, RX, osp.bank^Bank(k))
		d.table.Entry(i).Arm(cfg.OutMaxSize, osp.toggle^Toggle(k))
	}
	// A short packet ended the transfer before every armed bank was
	// filled. Take the spare back so the controller NAKs.
	for ; osp.armed > want; osp.armed-- {
		i := Index(ep, RX, osp.bank^Bank(osp.armed-1))
		d.table.Entry(i).Clear()
	}
}

// nextBank returns the bank the controller's ping-pong pointer selects next
// for ep and dir.
func (d *Driver) nextBank(ep uint8, dir Direction) Bank {
	if d.odd.Get(int(ep)<<1 | int(dir)) {
		return Odd
	}
	return Even
}

// followBank records that the controller finished a token on bank b of ep
// and dir, so the pointer now selects the other bank.
func (d *Driver) followBank(ep uint8, dir Direction, b Bank) {
	d.odd.Set(int(ep)<<1|int(dir), b == Even)
}

// resetBanks mirrors CTL.ODDRST: every pointer back to the even bank.
func (d *Driver) resetBanks() {
	for i := 0; i < d.odd.Len(); i++ {
		d.odd.Set(i, false)
	}
}

// State returns the driver state.
func (d *Driver) State() State {
	d.section.Lock()
	defer d.section.Unlock()
	return d.fsm.State()
}

// OnStateChange registers fn to run, with the section held, after every
// driver state change.
func (d *Driver) OnStateChange(fn func(from, to State)) {
	d.section.Lock()
	defer d.section.Unlock()
	d.fsm.OnChange(fn)
}

// Address returns the device address last latched.
func (d *Driver) Address() uint8 {
	d.section.Lock()
	defer d.section.Unlock()
	return d.address
}

// Table returns the buffer descriptor table.
func (d *Driver) Table() *Table { return d.table }

// Pool returns the packet buffer pool.
func (d *Driver) Pool() *Pool { return d.pool }

// Config returns the configuration the driver was created with.
func (d *Driver) Config() Config { return d.cfg }
