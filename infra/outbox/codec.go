package outbox

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"matchbook/domain/orderbook"
)

// TradeEvent is the published form of an executed trade.
//
// Wire format is protobuf:
//
//	1 trade_id       uint64
//	2 price          string (decimal)
//	3 quantity       int64
//	4 maker_order_id uint64
//	5 taker_order_id uint64
//	6 taker_side     string ("buy" | "sell")
//	7 executed_at    int64 (unix nanos)
type TradeEvent struct {
	TradeID      uint64
	Price        decimal.Decimal
	Quantity     int64
	MakerOrderID uint64
	TakerOrderID uint64
	TakerSide    orderbook.Side
	ExecutedAt   time.Time
}

const (
	fieldTradeID protowire.Number = iota + 1
	fieldPrice
	fieldQuantity
	fieldMakerOrderID
	fieldTakerOrderID
	fieldTakerSide
	fieldExecutedAt
)

var ErrMalformedEvent = errors.New("malformed trade event")

func EventFromTrade(t orderbook.Trade, at time.Time) TradeEvent {
	return TradeEvent{
		TradeID:      t.ID,
		Price:        t.Price,
		Quantity:     t.Quantity,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		TakerSide:    t.TakerSide,
		ExecutedAt:   at,
	}
}

func (e TradeEvent) Marshal() []byte {
	b := make([]byte, 0, 64)
	b = protowire.AppendTag(b, fieldTradeID, protowire.VarintType)
	b = protowire.AppendVarint(b, e.TradeID)
	b = protowire.AppendTag(b, fieldPrice, protowire.BytesType)
	b = protowire.AppendString(b, e.Price.String())
	b = protowire.AppendTag(b, fieldQuantity, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Quantity))
	b = protowire.AppendTag(b, fieldMakerOrderID, protowire.VarintType)
	b = protowire.AppendVarint(b, e.MakerOrderID)
	b = protowire.AppendTag(b, fieldTakerOrderID, protowire.VarintType)
	b = protowire.AppendVarint(b, e.TakerOrderID)
	b = protowire.AppendTag(b, fieldTakerSide, protowire.BytesType)
	b = protowire.AppendString(b, e.TakerSide.String())
	b = protowire.AppendTag(b, fieldExecutedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ExecutedAt.UnixNano()))
	return b
}

// UnmarshalTradeEvent decodes Marshal output. Unknown fields are skipped.
func UnmarshalTradeEvent(b []byte) (TradeEvent, error) {
	var e TradeEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, errors.Wrap(ErrMalformedEvent, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num != fieldPrice && num != fieldTakerSide:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, errors.Wrap(ErrMalformedEvent, protowire.ParseError(n).Error())
			}
			b = b[n:]
			switch num {
			case fieldTradeID:
				e.TradeID = v
			case fieldQuantity:
				e.Quantity = int64(v)
			case fieldMakerOrderID:
				e.MakerOrderID = v
			case fieldTakerOrderID:
				e.TakerOrderID = v
			case fieldExecutedAt:
				e.ExecutedAt = time.Unix(0, int64(v))
			}

		case typ == protowire.BytesType && (num == fieldPrice || num == fieldTakerSide):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, errors.Wrap(ErrMalformedEvent, protowire.ParseError(n).Error())
			}
			b = b[n:]
			if num == fieldPrice {
				p, err := decimal.NewFromString(s)
				if err != nil {
					return e, errors.Wrapf(ErrMalformedEvent, "price %q", s)
				}
				e.Price = p
				continue
			}
			side, err := orderbook.ParseSide(s)
			if err != nil {
				return e, errors.Wrapf(ErrMalformedEvent, "taker side %q", s)
			}
			e.TakerSide = side

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, errors.Wrap(ErrMalformedEvent, protowire.ParseError(n).Error())
			}
			b = b[n:]
		}
	}
	return e, nil
}
