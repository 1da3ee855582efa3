package textproto

import (
	"fmt"
	"io"

	"matchbook/domain/orderbook"
)

// FormatEntry renders a resting order as "<side> <qty>@$<price>" with
// one decimal place.
func FormatEntry(e orderbook.Entry) string {
	return fmt.Sprintf("%s %d@$%s", e.Side, e.Qty, e.Price.StringFixed(1))
}

func FormatTrade(t orderbook.Trade) string {
	return fmt.Sprintf("trade %d@$%s", t.Quantity, t.Price.StringFixed(1))
}

// WriteSnapshot prints bids best first, then asks best first.
func WriteSnapshot(w io.Writer, snap orderbook.Snapshot) error {
	for _, side := range [][]orderbook.Entry{snap.Bids, snap.Asks} {
		for _, e := range side {
			if _, err := fmt.Fprintln(w, FormatEntry(e)); err != nil {
				return err
			}
		}
	}
	return nil
}

func WritePlacement(w io.Writer, p orderbook.Placement) error {
	if _, err := fmt.Fprintf(w, "accepted %d\n", p.OrderID); err != nil {
		return err
	}
	for _, t := range p.Trades {
		if _, err := fmt.Fprintln(w, FormatTrade(t)); err != nil {
			return err
		}
	}
	return nil
}
