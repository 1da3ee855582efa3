// Package textproto is the line protocol spoken on stdin/stdout.
//
//	<side> <price> <qty>   submit a limit order, side is buy or sell
//	print                  list resting orders, bids then asks
//	vol | volume           total traded quantity
//	cancel <id>            remove a resting order
//	q | quit | end         close the session
//
// A price is any decimal literal shopspring/decimal parses, such as
// 10, 10.50, .5, 5. or 1e2, and must be positive. A quantity is a
// positive base-10 integer that fits in int64.
package textproto

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"matchbook/domain/orderbook"
)

type Kind int

const (
	KindEmpty Kind = iota
	KindSubmit
	KindPrint
	KindVolume
	KindCancel
	KindQuit
)

// Command is one parsed input line.
type Command struct {
	Kind    Kind
	Side    orderbook.Side
	Price   decimal.Decimal
	Qty     int64
	OrderID uint64
}

var ErrUnknownCommand = errors.New("unknown command")

type submitRequest struct {
	Side  string `validate:"required,oneof=buy sell"`
	Price string `validate:"required"`
	Qty   string `validate:"required,number"`
}

type cancelRequest struct {
	ID string `validate:"required,number"`
}

var validate = validator.New()

// Parse reads one line. Malformed submissions wrap
// orderbook.ErrInvalidOrder; the range checks on price and quantity
// are left to the book.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Kind: KindEmpty}, nil
	}

	switch strings.ToLower(fields[0]) {
	case "print":
		return Command{Kind: KindPrint}, nil
	case "vol", "volume":
		return Command{Kind: KindVolume}, nil
	case "q", "quit", "end":
		return Command{Kind: KindQuit}, nil
	case "cancel":
		return parseCancel(fields[1:])
	case "buy", "sell":
		return parseSubmit(fields)
	}

	if len(fields) == 3 {
		// looks like a submission with a bad side
		return parseSubmit(fields)
	}
	return Command{}, errors.Wrapf(ErrUnknownCommand, "%q", fields[0])
}

func parseSubmit(fields []string) (Command, error) {
	if len(fields) != 3 {
		return Command{}, errors.Wrap(orderbook.ErrInvalidOrder, "expected <side> <price> <qty>")
	}
	req := submitRequest{
		Side:  strings.ToLower(fields[0]),
		Price: fields[1],
		Qty:   fields[2],
	}
	if err := validate.Struct(req); err != nil {
		return Command{}, errors.Wrap(orderbook.ErrInvalidOrder, describe(err))
	}

	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		return Command{}, err
	}
	price, err := orderbook.ParsePrice(req.Price)
	if err != nil {
		return Command{}, err
	}
	qty, err := strconv.ParseInt(req.Qty, 10, 64)
	if err != nil {
		return Command{}, errors.Wrapf(orderbook.ErrInvalidOrder, "quantity %q", req.Qty)
	}
	return Command{Kind: KindSubmit, Side: side, Price: price, Qty: qty}, nil
}

func parseCancel(args []string) (Command, error) {
	if len(args) != 1 {
		return Command{}, errors.New("expected cancel <id>")
	}
	req := cancelRequest{ID: args[0]}
	if err := validate.Struct(req); err != nil {
		return Command{}, errors.Errorf("order id %q: %s", args[0], describe(err))
	}
	id, err := strconv.ParseUint(req.ID, 10, 64)
	if err != nil {
		return Command{}, errors.Errorf("order id %q out of range", args[0])
	}
	return Command{Kind: KindCancel, OrderID: id}, nil
}

// describe turns validator output into "side: must be one of buy sell".
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+": missing")
		case "oneof":
			parts = append(parts, field+": must be one of "+fe.Param())
		default:
			parts = append(parts, field+": "+strconv.Quote(fe.Value().(string))+" is not a number")
		}
	}
	return strings.Join(parts, ", ")
}
