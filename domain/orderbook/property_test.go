package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

type drawn struct {
	side  Side
	price decimal.Decimal
	qty   int64
}

func drawOrders(t *rapid.T) []drawn {
	n := rapid.IntRange(1, 80).Draw(t, "n")
	out := make([]drawn, n)
	for i := range out {
		out[i] = drawn{
			side:  rapid.SampledFrom([]Side{Buy, Sell}).Draw(t, "side"),
			price: decimal.New(rapid.Int64Range(90, 110).Draw(t, "ticks"), -1),
			qty:   rapid.Int64Range(1, 20).Draw(t, "qty"),
		}
	}
	return out
}

func TestProperty_BookNeverRestsCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := rapid.SampledFrom([]AggregationPolicy{AggregateNone, AggregateOnRest, AggregateBeforeMatch}).Draw(t, "policy")
		book := NewOrderBook(Options{Aggregation: policy})

		for i, o := range drawOrders(t) {
			if _, err := book.Submit(o.side, o.price, o.qty); err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
			if snap := book.Snapshot(); snap.Crossed() {
				t.Fatalf("book is crossed after submit %d: bid %s >= ask %s",
					i, snap.Bids[0].Price, snap.Asks[0].Price)
			}
		}
	})
}

func TestProperty_QuantityIsConserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := rapid.SampledFrom([]AggregationPolicy{AggregateNone, AggregateOnRest, AggregateBeforeMatch}).Draw(t, "policy")
		book := NewOrderBook(Options{Aggregation: policy})

		var submitted, traded int64
		for _, o := range drawOrders(t) {
			trades, err := book.Submit(o.side, o.price, o.qty)
			if err != nil {
				t.Fatal(err)
			}
			submitted += o.qty
			for _, tr := range trades {
				if tr.Quantity <= 0 {
					t.Fatalf("non-positive trade quantity %d", tr.Quantity)
				}
				traded += tr.Quantity
			}
		}

		snap := book.Snapshot()
		resting := snap.RestingQty(Buy) + snap.RestingQty(Sell)
		if traded != book.TotalVolume() {
			t.Fatalf("volume %d != sum of trades %d", book.TotalVolume(), traded)
		}
		// each trade consumes its quantity from taker and maker
		if submitted != resting+2*traded {
			t.Fatalf("submitted %d != resting %d + 2*traded %d", submitted, resting, traded)
		}
		for _, e := range append(snap.Bids, snap.Asks...) {
			if e.Qty <= 0 {
				t.Fatalf("resting order %d has quantity %d", e.ID, e.Qty)
			}
		}
		if book.Depth(Buy) != snap.RestingQty(Buy) || book.Depth(Sell) != snap.RestingQty(Sell) {
			t.Fatal("level totals disagree with order quantities")
		}
	})
}

func TestProperty_FIFOWithinLevel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		book := NewOrderBook(Options{Aggregation: AggregateNone})

		// makers consumed at one price must come out in id order
		lastMaker := map[string]uint64{}
		for _, o := range drawOrders(t) {
			trades, err := book.Submit(o.side, o.price, o.qty)
			if err != nil {
				t.Fatal(err)
			}
			for _, tr := range trades {
				key := tr.Price.String()
				if tr.MakerOrderID < lastMaker[key] {
					t.Fatalf("maker %d traded after later maker %d at %s", tr.MakerOrderID, lastMaker[key], key)
				}
				lastMaker[key] = tr.MakerOrderID
			}
		}

		snap := book.Snapshot()
		for i := 1; i < len(snap.Bids); i++ {
			prev, cur := snap.Bids[i-1], snap.Bids[i]
			if prev.Price.LessThan(cur.Price) || (prev.Price.Equal(cur.Price) && prev.ID > cur.ID) {
				t.Fatalf("bids out of order at %d", i)
			}
		}
		for i := 1; i < len(snap.Asks); i++ {
			prev, cur := snap.Asks[i-1], snap.Asks[i]
			if prev.Price.GreaterThan(cur.Price) || (prev.Price.Equal(cur.Price) && prev.ID > cur.ID) {
				t.Fatalf("asks out of order at %d", i)
			}
		}
	})
}

func TestProperty_AggregationPoliciesAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		onRest := NewOrderBook(Options{Aggregation: AggregateOnRest})
		beforeMatch := NewOrderBook(Options{Aggregation: AggregateBeforeMatch})

		for i, o := range drawOrders(t) {
			a, err := onRest.Place(o.side, o.price, o.qty)
			if err != nil {
				t.Fatal(err)
			}
			b, err := beforeMatch.Place(o.side, o.price, o.qty)
			if err != nil {
				t.Fatal(err)
			}
			if len(a.Trades) != len(b.Trades) || a.Resting != b.Resting || a.RestingID != b.RestingID {
				t.Fatalf("policies diverged at submit %d: %+v vs %+v", i, a, b)
			}
		}

		sa, sb := onRest.Snapshot(), beforeMatch.Snapshot()
		if len(sa.Bids) != len(sb.Bids) || len(sa.Asks) != len(sb.Asks) || sa.Volume != sb.Volume {
			t.Fatal("final books differ")
		}
	})
}
