package textproto

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"matchbook/domain/orderbook"
	"matchbook/infra/logging"
)

// Engine is the part of service.OrderService a session drives.
type Engine interface {
	Submit(ctx context.Context, side orderbook.Side, price decimal.Decimal, qty int64) (orderbook.Placement, error)
	Cancel(ctx context.Context, id uint64) (bool, error)
	Snapshot(ctx context.Context) (orderbook.Snapshot, error)
	TotalVolume(ctx context.Context) (int64, error)
}

type Session struct {
	engine Engine
	out    io.Writer
	log    *logrus.Entry
}

func NewSession(engine Engine, out io.Writer, log *logrus.Entry) *Session {
	if log == nil {
		log = logging.Discard()
	}
	return &Session{engine: engine, out: out, log: log}
}

// MaxLineLen bounds one input line. Longer lines are discarded and
// answered with ErrLineTooLong.
const MaxLineLen = 64 * 1024

var ErrLineTooLong = errors.Errorf("input line longer than %d bytes", MaxLineLen)

// Serve handles lines from in until EOF, a quit command or ctx is done.
// Bad input is reported to the client and never ends the session; an
// engine or output failure does.
func (s *Session) Serve(ctx context.Context, in io.Reader) error {
	r := bufio.NewReader(in)
	for {
		line, err := readLine(r, MaxLineLen)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, ErrLineTooLong) {
			return errors.Wrap(err, "read input")
		}
		if ctx.Err() != nil {
			return nil
		}

		var cmd Command
		if err == nil {
			cmd, err = Parse(line)
		}
		if err != nil {
			s.log.WithError(err).Debug("rejected input")
			if err := s.reply("error: %v", err); err != nil {
				return err
			}
			continue
		}
		if cmd.Kind == KindQuit {
			return nil
		}
		if err := s.execute(ctx, cmd); err != nil {
			return err
		}
	}
}

// readLine returns the next line without its terminator. A line over
// limit bytes is still consumed to its end, then reported as
// ErrLineTooLong.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		if !tooLong {
			if len(buf)+len(chunk) > limit {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", ErrLineTooLong
	}
	return string(buf), nil
}

func (s *Session) execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindEmpty:
		return nil

	case KindSubmit:
		p, err := s.engine.Submit(ctx, cmd.Side, cmd.Price, cmd.Qty)
		if errors.Is(err, orderbook.ErrInvalidOrder) {
			return s.reply("error: %v", err)
		}
		if err != nil {
			return err
		}
		return WritePlacement(s.out, p)

	case KindPrint:
		snap, err := s.engine.Snapshot(ctx)
		if err != nil {
			return err
		}
		return WriteSnapshot(s.out, snap)

	case KindVolume:
		v, err := s.engine.TotalVolume(ctx)
		if err != nil {
			return err
		}
		return s.reply("%d", v)

	case KindCancel:
		ok, err := s.engine.Cancel(ctx, cmd.OrderID)
		switch {
		case errors.Is(err, orderbook.ErrUnsupportedOperation):
			return s.reply("error: cancel %d: %v", cmd.OrderID, err)
		case err != nil:
			return err
		case ok:
			return s.reply("cancelled %d", cmd.OrderID)
		default:
			return s.reply("not found %d", cmd.OrderID)
		}
	}
	return nil
}

func (s *Session) reply(format string, args ...any) error {
	_, err := fmt.Fprintf(s.out, format+"\n", args...)
	return err
}
