package kinetis

import (
	"errors"
	"testing"

	"github.com/ardnew/usbfs/device/hal"
	"github.com/ardnew/usbfs/pkg"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		port    Port
		l       Listener
		mutate  func(*Config)
		wantErr error
	}{
		{"nil port", nil, ListenerFuncs{}, nil, pkg.ErrInvalidParameter},
		{"nil listener", newFakePort(), nil, nil, pkg.ErrInvalidParameter},
		{"no endpoints", newFakePort(), ListenerFuncs{}, func(c *Config) { c.Endpoints = 0 }, pkg.ErrInvalidParameter},
		{"too many endpoints", newFakePort(), ListenerFuncs{}, func(c *Config) { c.Endpoints = 17 }, pkg.ErrInvalidParameter},
		{"no reset spin", newFakePort(), ListenerFuncs{}, func(c *Config) { c.ResetSpin = 0 }, pkg.ErrInvalidParameter},
		{"defaults", newFakePort(), ListenerFuncs{}, nil, nil},
		{"single endpoint", newFakePort(), ListenerFuncs{}, func(c *Config) { c.Endpoints = 1 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			d, err := New(tt.port, tt.l, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if d.State() != StateStopped {
				t.Errorf("State() = %s, want stopped", d.State())
			}
			if d.Pool().Cap() != cfg.Endpoints*4 {
				t.Errorf("Pool().Cap() = %d, want %d", d.Pool().Cap(), cfg.Endpoints*4)
			}
			if d.Table().Endpoints() != cfg.Endpoints {
				t.Errorf("Table().Endpoints() = %d, want %d", d.Table().Endpoints(), cfg.Endpoints)
			}
		})
	}
}

func TestStartProgramsController(t *testing.T) {
	d, port := newTestDriver(t, 4)
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	regs := []struct {
		name string
		reg  Register
		want uint8
	}{
		{"BDTPAGE1", RegBDTPAGE1, 0x12},
		{"BDTPAGE2", RegBDTPAGE2, 0x00},
		{"BDTPAGE3", RegBDTPAGE3, 0x20},
		{"USBTRC0", RegUSBTRC0, 0x40},
		{"CTL", RegCTL, CtlODDRST | CtlUSBENSOFEN},
		{"USBCTRL", RegUSBCTRL, 0},
		{"INTEN", RegINTEN, IntUSBRST},
		{"CONTROL", RegCONTROL, ControlDPPULLUPNONOTG},
	}
	for _, r := range regs {
		if got := port.regs[r.reg]; got != r.want {
			t.Errorf("%s = 0x%02X, want 0x%02X", r.name, got, r.want)
		}
	}
	if !port.clock {
		t.Error("clock not enabled")
	}
	if !port.irqOn || port.priority != 2 {
		t.Errorf("irq on=%v priority=%d, want true, 2", port.irqOn, port.priority)
	}
	if d.State() != StateReady {
		t.Errorf("State() = %s, want ready", d.State())
	}

	if err := d.Start(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("second Start() error = %v, want ErrInvalidState", err)
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("module reset stuck", func(t *testing.T) {
		d, port := newTestDriver(t, 2)
		port.stuckReset = true
		if err := d.Start(); !errors.Is(err, pkg.ErrTimeout) {
			t.Fatalf("Start() error = %v, want ErrTimeout", err)
		}
		if d.State() != StateStopped {
			t.Errorf("State() = %s, want stopped", d.State())
		}
		if port.irqOn {
			t.Error("interrupt enabled after failed start")
		}
	})

	t.Run("misaligned table", func(t *testing.T) {
		d, port := newTestDriver(t, 2)
		port.tableBase = 0x20001208
		if err := d.Start(); !errors.Is(err, pkg.ErrMisaligned) {
			t.Fatalf("Start() error = %v, want ErrMisaligned", err)
		}
		if port.regs[RegCONTROL] != 0 {
			t.Error("pull-up enabled after failed start")
		}
	})
}

func TestResetBeforeStart(t *testing.T) {
	d, _ := newTestDriver(t, 2)
	if err := d.Reset(); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Reset() error = %v, want ErrInvalidState", err)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	var events []hal.Event
	d, port := startTestDriver(t, 4, ListenerFuncs{
		OnEvent: func(s *Section, ev hal.Event) { events = append(events, ev) },
	})

	if d.State() != StateDefault {
		t.Errorf("State() = %s, want default", d.State())
	}
	for _, r := range []struct {
		name string
		reg  Register
		want uint8
	}{
		{"INTEN", RegINTEN, IntAll},
		{"ERREN", RegERREN, 0xFF},
		{"CTL", RegCTL, CtlUSBENSOFEN},
		{"ADDR", RegADDR, 0},
		{"ENDPT0", RegENDPT(0), EndptEPHSHK | EndptEPTXEN | EndptEPRXEN},
	} {
		if got := port.regs[r.reg]; got != r.want {
			t.Errorf("%s = 0x%02X, want 0x%02X", r.name, got, r.want)
		}
	}
	if got := d.Pool().Used(); got != 4 {
		t.Errorf("Pool().Used() = %d, want 4", got)
	}
	// EP0 expects a SETUP in the even bank and keeps the odd one armed for
	// the DATA1 packet that follows it.
	for b, toggle := range map[Bank]Toggle{Even: DATA0, Odd: DATA1} {
		if got, want := d.Table().At(0, RX, b).Load(), Describe(PacketSize, toggle); got != want {
			t.Errorf("EP0 RX bank %d = %s, want %s", b, DescString(got), DescString(want))
		}
		if d.Table().At(0, TX, b).Owner() != OwnedByProcessor {
			t.Errorf("EP0 TX bank %d owned by controller", b)
		}
	}
	// A thread-context reset is not a bus event.
	if len(events) != 0 {
		t.Errorf("events = %v, want none", events)
	}

	// Endpoints configured before a reset are forgotten by it.
	cfg, _, _ := bulkConfig(64, 64)
	if err := d.InitEndpoint(1, cfg); err != nil {
		t.Fatalf("InitEndpoint() error = %v", err)
	}
	d.SetAddress(9)
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if port.regs[RegENDPT(1)] != 0 || d.Address() != 0 || d.Pool().Used() != 4 {
		t.Errorf("after reset ENDPT1=0x%02X addr=%d used=%d, want 0, 0, 4",
			port.regs[RegENDPT(1)], d.Address(), d.Pool().Used())
	}
	s := d.Lock()
	if err := s.StartIn(1); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("StartIn(1) after reset error = %v, want ErrNotConfigured", err)
	}
	s.Unlock()
}

func TestShutdownAndStop(t *testing.T) {
	var changes []State
	d, port := startTestDriver(t, 2, ListenerFuncs{})
	d.OnStateChange(func(from, to State) { changes = append(changes, to) })

	// Stop alone leaves a running driver alone.
	d.Stop()
	if !port.irqOn {
		t.Fatal("Stop() on running driver disabled the interrupt")
	}

	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if port.irqOn {
		t.Error("interrupt still enabled after Shutdown")
	}
	for _, r := range []Register{RegCONTROL, RegINTEN, RegCTL, RegENDPT(0)} {
		if port.regs[r] != 0 {
			t.Errorf("register 0x%03X = 0x%02X after Shutdown, want 0", uint16(r), port.regs[r])
		}
	}
	if d.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", d.State())
	}
	if len(changes) != 1 || changes[0] != StateStopped {
		t.Errorf("state changes = %v, want [stopped]", changes)
	}

	if err := d.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}

	// A stopped driver can be initialized and started again.
	d.Init()
	if err := d.Start(); err != nil {
		t.Errorf("restart error = %v", err)
	}
}

func TestInitEndpointRegister(t *testing.T) {
	tests := []struct {
		name string
		cfg  *EndpointConfig
		want uint8
	}{
		{
			"bulk in and out",
			&EndpointConfig{Type: hal.EndpointTypeBulk, InMaxSize: 64, OutMaxSize: 64,
				InState: new(InState), OutState: new(OutState)},
			0x1D,
		},
		{
			"isochronous in",
			&EndpointConfig{Type: hal.EndpointTypeIsochronous, InMaxSize: 64, InState: new(InState)},
			0x14,
		},
		{
			"interrupt in",
			&EndpointConfig{Type: hal.EndpointTypeInterrupt, InMaxSize: 8, InState: new(InState)},
			0x15,
		},
		{
			"bulk out",
			&EndpointConfig{Type: hal.EndpointTypeBulk, OutMaxSize: 32, OutState: new(OutState)},
			0x19,
		},
		{
			"control",
			&EndpointConfig{Type: hal.EndpointTypeControl, InMaxSize: 8, OutMaxSize: 8,
				InState: new(InState), OutState: new(OutState)},
			0x0D,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, port := startTestDriver(t, 4, ListenerFuncs{})
			if err := d.InitEndpoint(2, tt.cfg); err != nil {
				t.Fatalf("InitEndpoint() error = %v", err)
			}
			if got := port.regs[RegENDPT(2)]; got != tt.want {
				t.Errorf("ENDPT2 = 0x%02X, want 0x%02X", got, tt.want)
			}
			if osp := tt.cfg.OutState; osp != nil {
				// Only a control endpoint accepts data before a transfer
				// starts.
				want := map[Bank]uint32{Even: 0, Odd: 0}
				if tt.cfg.Type == hal.EndpointTypeControl {
					want[Even] = Describe(tt.cfg.OutMaxSize, DATA0)
					want[Odd] = Describe(tt.cfg.OutMaxSize, DATA1)
				}
				for b, w := range want {
					if got := d.Table().At(2, RX, b).Load(); got != w {
						t.Errorf("RX bank %d = %s, want %s", b, DescString(got), DescString(w))
					}
				}
				if osp.Bank() != Even || osp.Toggle() != DATA0 {
					t.Errorf("OUT state bank/toggle = %d/%s, want 0/DATA0", osp.Bank(), osp.Toggle())
				}
			}
			if tt.cfg.InState != nil && !d.Table().Bound(Index(2, TX, Even)) {
				t.Error("TX even has no buffer")
			}
		})
	}
}

func TestInitEndpointErrors(t *testing.T) {
	d, _ := startTestDriver(t, 4, ListenerFuncs{})
	good, _, _ := bulkConfig(64, 64)

	tests := []struct {
		name    string
		ep      uint8
		cfg     *EndpointConfig
		wantErr error
	}{
		{"endpoint 0", 0, good, pkg.ErrInvalidEndpoint},
		{"out of range", 4, good, pkg.ErrInvalidEndpoint},
		{"nil config", 1, nil, pkg.ErrInvalidParameter},
		{"zero in size", 1, &EndpointConfig{InState: new(InState)}, pkg.ErrInvalidParameter},
		{"oversized out", 1, &EndpointConfig{OutMaxSize: 65, OutState: new(OutState)}, pkg.ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.InitEndpoint(tt.ep, tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("InitEndpoint(%d) error = %v, want %v", tt.ep, err, tt.wantErr)
			}
		})
	}
}

func TestInitEndpointReusesBuffers(t *testing.T) {
	d, _ := startTestDriver(t, 4, ListenerFuncs{})
	cfg, isp, _ := bulkConfig(64, 64)

	for range 5 {
		if err := d.InitEndpoint(1, cfg); err != nil {
			t.Fatalf("InitEndpoint() error = %v", err)
		}
	}
	if got := d.Pool().Used(); got != 8 {
		t.Errorf("Pool().Used() = %d, want 8", got)
	}
	if isp.Bank() != Even || isp.Toggle() != DATA0 {
		t.Errorf("IN bank=%d toggle=%s after init, want even DATA0", isp.Bank(), isp.Toggle())
	}
}

func TestDisableEndpoints(t *testing.T) {
	for _, endpoints := range []int{1, 8, 16} {
		d, port := startTestDriver(t, endpoints, ListenerFuncs{})
		for i := 1; i < MaxEndpoints; i++ {
			port.regs[RegENDPT(uint8(i))] = 0x1D
		}
		d.DisableEndpoints()

		if port.regs[RegENDPT(0)] == 0 {
			t.Errorf("endpoints=%d: ENDPT0 disabled", endpoints)
		}
		for i := 1; i < MaxEndpoints; i++ {
			want := uint8(0x1D)
			if i < endpoints {
				want = 0
			}
			if got := port.regs[RegENDPT(uint8(i))]; got != want {
				t.Errorf("endpoints=%d: ENDPT%d = 0x%02X, want 0x%02X", endpoints, i, got, want)
			}
		}
	}
}

func TestStallAndClear(t *testing.T) {
	d, port := startTestDriver(t, 4, ListenerFuncs{})

	if got := d.StatusIn(0); got != EndpointActive {
		t.Errorf("StatusIn(0) = %s, want active", got)
	}
	if err := d.StallIn(0); err != nil {
		t.Fatalf("StallIn(0) error = %v", err)
	}
	if port.regs[RegENDPT(0)]&EndptEPSTALL == 0 {
		t.Error("EPSTALL not set")
	}
	// The stall bit is shared by both directions.
	if d.StatusIn(0) != EndpointStalled || d.StatusOut(0) != EndpointStalled {
		t.Errorf("status in=%s out=%s, want stalled", d.StatusIn(0), d.StatusOut(0))
	}
	if err := d.ClearOut(0); err != nil {
		t.Fatalf("ClearOut(0) error = %v", err)
	}
	if d.StatusIn(0) != EndpointActive {
		t.Errorf("StatusIn(0) after clear = %s, want active", d.StatusIn(0))
	}
	if err := d.StallOut(0); err != nil {
		t.Fatalf("StallOut(0) error = %v", err)
	}
	if err := d.ClearIn(0); err != nil {
		t.Fatalf("ClearIn(0) error = %v", err)
	}
	if port.regs[RegENDPT(0)] != 0x0D {
		t.Errorf("ENDPT0 = 0x%02X, want 0x0D", port.regs[RegENDPT(0)])
	}

	if d.StatusIn(2) != EndpointDisabled || d.StatusOut(20) != EndpointDisabled {
		t.Error("unconfigured endpoint not reported disabled")
	}
	for _, fn := range []func(uint8) error{d.StallIn, d.StallOut, d.ClearIn, d.ClearOut} {
		if err := fn(4); !errors.Is(err, pkg.ErrInvalidEndpoint) {
			t.Errorf("stall/clear endpoint 4 error = %v, want ErrInvalidEndpoint", err)
		}
	}
}

func TestSetAddressMasks(t *testing.T) {
	d, port := startTestDriver(t, 2, ListenerFuncs{})
	d.SetAddress(0x85)
	if port.regs[RegADDR] != 0x05 {
		t.Errorf("ADDR = 0x%02X, want 0x05", port.regs[RegADDR])
	}
	if d.Address() != 5 {
		t.Errorf("Address() = %d, want 5", d.Address())
	}
}

func TestLinkError(t *testing.T) {
	if err := LinkError(0); err != nil {
		t.Errorf("LinkError(0) = %v, want nil", err)
	}
	err := LinkError(ErrCRC16 | ErrBTSERR)
	if !errors.Is(err, pkg.ErrCRC16) || !errors.Is(err, pkg.ErrBitStuff) {
		t.Errorf("LinkError() = %v, want CRC16 and bit stuff", err)
	}
	if errors.Is(err, pkg.ErrPID) {
		t.Errorf("LinkError() = %v, unexpected PID error", err)
	}
	all := LinkError(0xFF)
	for _, want := range []error{pkg.ErrPID, pkg.ErrCRC5, pkg.ErrCRC16, pkg.ErrDataFormat,
		pkg.ErrBusTurnaround, pkg.ErrDMA, pkg.ErrBitStuff} {
		if !errors.Is(all, want) {
			t.Errorf("LinkError(0xFF) missing %v", want)
		}
	}
}

func TestInterruptOutOfRangeEndpoint(t *testing.T) {
	d, port := startTestDriver(t, 2, ListenerFuncs{})
	port.token(5, RX, Even)
	port.irq()

	// The handler gives up without acknowledging the token.
	if len(port.stat) != 1 || port.regs[RegISTAT]&IntTOKDNE == 0 {
		t.Errorf("stat FIFO len=%d ISTAT=0x%02X, want token left pending", len(port.stat), port.regs[RegISTAT])
	}
	if d.State() != StateDefault {
		t.Errorf("State() = %s, want default", d.State())
	}
}

func TestInterruptUnconfiguredEndpoint(t *testing.T) {
	_, port := startTestDriver(t, 4, ListenerFuncs{})
	port.token(2, RX, Even)
	port.token(3, TX, Odd)
	port.irq()

	if len(port.stat) != 0 || port.regs[RegISTAT]&IntTOKDNE != 0 {
		t.Errorf("stat FIFO len=%d ISTAT=0x%02X, want both tokens acknowledged",
			len(port.stat), port.regs[RegISTAT])
	}
}

func TestInterruptSetupAndAddressLatch(t *testing.T) {
	var (
		got     [hal.SetupPacketSize]byte
		events  []hal.Event
		inDone  int
		readErr error
	)
	d, port := startTestDriver(t, 2, ListenerFuncs{
		OnSetup: func(s *Section, ep uint8) {
			readErr = s.ReadSetup(ep, got[:])
			_ = s.BeginTransmit(ep, nil)
		},
		OnIn:    func(s *Section, ep uint8) { inDone++ },
		OnEvent: func(s *Section, ev hal.Event) { events = append(events, ev) },
	})

	setAddress := [hal.SetupPacketSize]byte{0x00, hal.RequestSetAddress, 0x07, 0, 0, 0, 0, 0}
	copy(d.Table().Buffer(Index(0, RX, Even)), setAddress[:])
	d.Table().At(0, TX, Odd).Arm(3, DATA0)
	d.Table().At(0, RX, Even).Store(8<<16 | uint32(PIDSetup)<<2)
	port.regs[RegCTL] |= CtlTXSUSPENDTOKENBUSY
	port.token(0, RX, Even)
	port.irq()

	if readErr != nil {
		t.Fatalf("ReadSetup() error = %v", readErr)
	}
	if got != setAddress {
		t.Errorf("setup = % X, want % X", got, setAddress)
	}
	if port.regs[RegCTL] != CtlUSBENSOFEN {
		t.Errorf("CTL = 0x%02X, want token processing resumed", port.regs[RegCTL])
	}
	if d.Table().At(0, TX, Odd).Load() != 0 {
		t.Error("SETUP left a pending IN descriptor armed")
	}
	if zlp := d.Table().At(0, TX, Even); zlp.Owner() != OwnedByController || zlp.Toggle() != DATA1 {
		t.Errorf("status stage descriptor = %s, want owned DATA1", DescString(zlp.Load()))
	}
	if d.Table().At(0, RX, Even).Owner() != OwnedByController {
		t.Error("RX even not returned to the controller")
	}
	// The address must not change before the status stage completes.
	if d.Address() != 0 || port.regs[RegADDR] != 0 {
		t.Fatalf("address latched during SETUP: %d", d.Address())
	}

	d.Table().At(0, TX, Even).Store(uint32(PIDIn)<<2 | DescDATA1)
	port.token(0, TX, Even)
	port.irq()

	if d.Address() != 7 || port.regs[RegADDR] != 7 {
		t.Errorf("Address() = %d, ADDR = %d, want 7", d.Address(), port.regs[RegADDR])
	}
	if d.State() != StateSelected {
		t.Errorf("State() = %s, want selected", d.State())
	}
	if inDone != 1 {
		t.Errorf("In callback ran %d times, want 1", inDone)
	}
	if len(events) != 1 || events[0] != hal.EventAddress {
		t.Errorf("events = %v, want [address]", events)
	}
}

func TestInterruptBusResetAndFlags(t *testing.T) {
	var (
		events []hal.Event
		sofs   int
	)
	d, port := startTestDriver(t, 2, ListenerFuncs{
		OnEvent: func(s *Section, ev hal.Event) { events = append(events, ev) },
		OnSOF:   func(s *Section) { sofs++ },
	})
	d.SetAddress(3)

	port.regs[RegISTAT] |= IntSOFTOK | IntSTALL | IntSLEEP
	port.regs[RegERRSTAT] = ErrCRC16
	port.regs[RegISTAT] |= IntERROR
	port.irq()

	if sofs != 1 {
		t.Errorf("SOF ran %d times, want 1", sofs)
	}
	if port.regs[RegISTAT] != 0 || port.regs[RegERRSTAT] != 0 {
		t.Errorf("ISTAT=0x%02X ERRSTAT=0x%02X, want both cleared",
			port.regs[RegISTAT], port.regs[RegERRSTAT])
	}

	port.regs[RegISTAT] |= IntUSBRST
	port.irq()
	if len(events) != 1 || events[0] != hal.EventReset {
		t.Errorf("events = %v, want [reset]", events)
	}
	if d.Address() != 0 || d.State() != StateDefault {
		t.Errorf("after bus reset addr=%d state=%s, want 0, default", d.Address(), d.State())
	}
	if port.regs[RegISTAT] != 0 {
		t.Errorf("ISTAT = 0x%02X after reset, want 0", port.regs[RegISTAT])
	}
}

func TestFrameNumber(t *testing.T) {
	d, port := startTestDriver(t, 1, ListenerFuncs{})
	port.regs[RegFRMNUML] = 0x34
	port.regs[RegFRMNUMH] = 0xFA
	s := d.Lock()
	defer s.Unlock()
	if got := s.FrameNumber(); got != 0x234 {
		t.Errorf("FrameNumber() = 0x%03X, want 0x234", got)
	}
}

func TestCriticalSectionIsThePort(t *testing.T) {
	var (
		port    *fakePort
		heldSOF bool
	)
	d, port := startTestDriver(t, 2, ListenerFuncs{
		OnSOF: func(s *Section) { heldSOF = port.held },
	})
	if port.held {
		t.Fatal("section still held after Reset")
	}

	// The handler runs inside the port's section, entered once.
	locks := port.locks
	port.regs[RegISTAT] |= IntSOFTOK
	port.irq()
	if !heldSOF {
		t.Error("SOF callback ran outside the port's critical section")
	}
	if port.held || port.locks != locks+1 {
		t.Errorf("after interrupt held=%v locks=%d, want false, %d", port.held, port.locks, locks+1)
	}

	s := d.Lock()
	if !port.held {
		t.Error("Lock() did not enter the port's critical section")
	}
	s.Unlock()
	if port.held {
		t.Error("Unlock() did not leave the port's critical section")
	}
}

func TestSetupRearmsControlBanks(t *testing.T) {
	d, port := startTestDriver(t, 2, ListenerFuncs{
		OnSetup: func(s *Section, ep uint8) { _ = s.BeginTransmit(ep, nil) },
	})

	// Two SETUPs in a row land in alternate banks. After each, the bank
	// the controller fills next expects DATA1 and the other DATA0.
	for i, b := range []Bank{Even, Odd} {
		d.Table().At(0, RX, b).Store(8<<16 | uint32(PIDSetup)<<2)
		port.token(0, RX, b)
		port.irq()

		next := b.Flip()
		if got, want := d.Table().At(0, RX, next).Load(), Describe(PacketSize, DATA1); got != want {
			t.Errorf("SETUP %d: RX bank %d = %s, want %s", i, next, DescString(got), DescString(want))
		}
		if got, want := d.Table().At(0, RX, b).Load(), Describe(PacketSize, DATA0); got != want {
			t.Errorf("SETUP %d: RX bank %d = %s, want %s", i, b, DescString(got), DescString(want))
		}
		if d.ep0out.Bank() != next || d.ep0out.Armed() != 2 {
			t.Errorf("SETUP %d: OUT bank=%d armed=%d, want %d, 2", i, d.ep0out.Bank(), d.ep0out.Armed(), next)
		}
	}
	// The status stage went out on the bank the TX pointer selects, which
	// never moved.
	if zlp := d.Table().At(0, TX, Even); zlp.Owner() != OwnedByController || zlp.Toggle() != DATA1 {
		t.Errorf("TX even = %s, want owned DATA1", DescString(zlp.Load()))
	}
}
