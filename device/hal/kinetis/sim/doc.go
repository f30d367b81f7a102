// Package sim simulates the Kinetis USB0 controller and the host on the
// other end of its cable, so the driver in package kinetis can be exercised
// without hardware.
//
// A [Peripheral] implements [kinetis.Port]. Its register file follows the
// reference manual where the driver depends on it: ISTAT and ERRSTAT clear
// on writing 1, STAT is the head of a four-deep token-done FIFO, USBTRC0's
// module reset clears itself, CTL.ODDRST rewinds the ping-pong pointers,
// and a SETUP sets CTL.TXSUSPENDTOKENBUSY until firmware writes CTL.
//
// Bus addresses handed out by MapTable and MapBuffer are synthetic; the
// peripheral resolves them back to Go memory when it performs DMA. The
// descriptor table is found through BDTPAGE1..3, as the hardware does.
//
// Host-side methods ([Peripheral.Setup], [Peripheral.Out], [Peripheral.In],
// [Peripheral.BusReset], ...) run one bus event each and then deliver the
// interrupt on the calling goroutine. [Host] builds standard control and
// bulk transfers on top of them:
//
//	p := sim.New(sim.DefaultOptions())
//	drv, _ := kinetis.New(p, listener, kinetis.DefaultConfig())
//	drv.Start()
//	h := sim.NewHost(p)
//	h.Reset()
//	desc, err := h.ControlIn(getDeviceDescriptor)
package sim
