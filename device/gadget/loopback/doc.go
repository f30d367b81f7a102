// Package loopback implements a vendor-class USB gadget that echoes every
// byte it receives.
//
// The gadget answers the standard requests a host needs to enumerate it
// and, once configured, runs one bulk endpoint pair on EP1. Bytes the host
// writes to the OUT endpoint are queued in an [queue.Input]; [Gadget.Echo]
// copies them to an [queue.Output] that the IN endpoint drains back to the
// host.
//
//	g := loopback.New()
//	d, err := kinetis.New(port, g, kinetis.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	g.Attach(d, 512)
//	if err := d.Start(); err != nil {
//	    return err
//	}
//	return g.Echo(ctx)
//
// Flow control comes from the driver: the OUT endpoint is only armed for
// as many whole packets as the input queue has room for, so a host that
// runs ahead of the echo is NAKed until Echo drains the queue.
package loopback
