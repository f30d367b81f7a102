package kinetis

import (
	"fmt"
	"log/slog"

	"github.com/ardnew/usbfs/pkg"
)

// Transmit copies up to n bytes of the IN transfer on ep into the next
// transmit buffer and hands its descriptor to the controller. n is clamped
// to the endpoint's max packet size and, for a queued transfer, to what the
// queue holds; a queue that ran short also shortens the transfer. The IN
// state's bank and data toggle advance for the following packet.
func (s *Section) Transmit(ep uint8, n int) error {
	d := s.d
	cfg, err := d.endpoint(ep)
	if err != nil {
		return err
	}
	isp := cfg.InState
	if isp == nil {
		return fmt.Errorf("%w: endpoint %d has no IN state", pkg.ErrNotConfigured, ep)
	}

	if n > cfg.InMaxSize {
		n = cfg.InMaxSize
	}
	if n < 0 {
		n = 0
	}
	if q := isp.TxQueue; q != nil {
		if avail := max(q.Len(), 0); n > avail {
			n = avail
			isp.TxSize = isp.TxCount + n
		}
	}

	i := Index(ep, TX, isp.bank)
	bd := d.table.Entry(i)
	buf := d.table.Buffer(i)

	d.trace.Put('>')
	d.trace.Hex(uint8(n))

	if isp.TxQueue != nil {
		for j := 0; j < n; j++ {
			buf[j] = isp.TxQueue.Pop()
		}
		isp.TxQueue.Release(n)
	} else {
		copy(buf[:n], isp.TxBuf)
	}

	bd.Arm(n, isp.toggle)
	if pkg.LogEnabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentEngine, "transmit",
			"ep", ep, "bank", isp.bank, "toggle", isp.toggle.String(), "n", n)
	}
	isp.toggle = isp.toggle.Flip()
	isp.bank = isp.bank.Flip()
	return nil
}

// Receive moves the n bytes the controller just received on ep into the
// OUT transfer's buffer or queue, then advances the OUT state to the next
// bank and data toggle and rearms through [Section.StartOut]. n is clamped
// to the endpoint's max packet size. Bytes that do not fit the destination
// are dropped. A short packet ends the transfer.
func (s *Section) Receive(ep uint8, n int) error {
	d := s.d
	cfg, err := d.endpoint(ep)
	if err != nil {
		return err
	}
	osp := cfg.OutState
	if osp == nil {
		return fmt.Errorf("%w: endpoint %d has no OUT state", pkg.ErrNotConfigured, ep)
	}

	if n > cfg.OutMaxSize {
		n = cfg.OutMaxSize
	}
	if n < 0 {
		n = 0
	}

	buf := d.table.Buffer(Index(ep, RX, osp.bank))

	d.trace.Put('<')
	d.trace.Hex(uint8(n))

	kept := n
	if q := osp.RxQueue; q != nil {
		kept = min(n, max(q.Space(), 0))
		for j := 0; j < kept; j++ {
			q.Push(buf[j])
		}
		q.Commit(kept)
	} else {
		kept = copy(osp.RxBuf, buf[:n])
		osp.RxBuf = osp.RxBuf[kept:]
	}
	if kept < n {
		pkg.LogWarn(pkg.ComponentEngine, "receive overrun",
			"ep", ep, "n", n, "dropped", n-kept)
	}

	osp.RxCount += kept
	osp.RxSize = max(osp.RxSize-kept, 0)
	osp.RxPackets--
	if n < cfg.OutMaxSize || osp.RxPackets < 0 {
		osp.RxPackets = 0
	}

	if pkg.LogEnabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentEngine, "receive",
			"ep", ep, "bank", osp.bank, "toggle", osp.toggle.String(), "n", n)
	}
	osp.toggle = osp.toggle.Flip()
	osp.bank = osp.bank.Flip()
	if osp.armed > 0 {
		osp.armed--
	}
	return s.StartOut(ep)
}
