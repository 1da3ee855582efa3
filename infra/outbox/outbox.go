package outbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrNotFound = errors.New("outbox record not found")

// -------------------- Record --------------------

// Record is one trade awaiting (or done with) publication.
type Record struct {
	TradeID     uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(id uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.Errorf("outbox record %d: short value (%d bytes)", id, len(b))
	}
	payload := make([]byte, len(b)-headerLen)
	copy(payload, b[headerLen:])
	return Record{
		TradeID:     id,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// -------------------- Outbox --------------------

// Outbox is a durable queue of executed trades for the broadcaster.
// The matching engine writes to it and never reads it back.
type Outbox struct {
	db *pebble.DB
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &Outbox{db: db}, nil
}

// OpenInMemory backs the outbox with an in-memory filesystem; its
// contents die with the process.
func OpenInMemory() (*Outbox, error) {
	db, err := pebble.Open("outbox", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory outbox")
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// -------------------- API --------------------

// Put stores a trade in state NEW.
func (o *Outbox) Put(ev TradeEvent) error {
	rec := Record{TradeID: ev.TradeID, State: StateNew, Payload: ev.Marshal()}
	return errors.Wrapf(o.db.Set(keyFor(ev.TradeID), encodeRecord(rec), pebble.Sync), "put trade %d", ev.TradeID)
}

func (o *Outbox) MarkSent(id uint64) error {
	return o.update(id, func(r *Record) { r.State = StateSent })
}

func (o *Outbox) MarkAcked(id uint64) error {
	return o.update(id, func(r *Record) { r.State = StateAcked })
}

// MarkFailed records one more failed attempt.
func (o *Outbox) MarkFailed(id uint64) error {
	return o.update(id, func(r *Record) {
		r.State = StateFailed
		r.Retries++
	})
}

// Delete removes a record; deleting a missing id is not an error.
func (o *Outbox) Delete(id uint64) error {
	return errors.Wrapf(o.db.Delete(keyFor(id), pebble.Sync), "delete trade %d", id)
}

func (o *Outbox) Get(id uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Record{}, errors.Wrapf(ErrNotFound, "trade %d", id)
		}
		return Record{}, errors.Wrapf(err, "get trade %d", id)
	}
	defer closer.Close()

	return decodeRecord(id, val)
}

func (o *Outbox) update(id uint64, mutate func(*Record)) error {
	rec, err := o.Get(id)
	if err != nil {
		return err
	}
	mutate(&rec)
	rec.LastAttempt = time.Now().UnixNano()
	return errors.Wrapf(o.db.Set(keyFor(id), encodeRecord(rec), pebble.Sync), "update trade %d", id)
}

// -------------------- Scan --------------------

// ScanByState visits records in the given state in trade id order.
func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	recs, err := o.collect(state)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Count returns how many records are in the given state.
func (o *Outbox) Count(state State) (int, error) {
	recs, err := o.collect(state)
	return len(recs), err
}

// collect reads matching records up front so callers can write back
// to the outbox while visiting them.
func (o *Outbox) collect(state State) ([]Record, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "outbox iterator")
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) == 0 || State(val[0]) != state {
			continue
		}
		id, err := parseKey(iter.Key())
		if err != nil {
			return nil, err
		}
		rec, err := decodeRecord(id, val)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(iter.Error(), "outbox scan")
}

// -------------------- Helpers --------------------

const keyPrefix = "trade/"

func keyFor(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, id))
}

func parseKey(b []byte) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &id)
	return id, errors.Wrapf(err, "parse outbox key %q", b)
}
