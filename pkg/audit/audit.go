package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/mdeadwiler/pf-blotter-fix/pkg/util"
)

// Append-only journal of blotter activity backed by pebble. Records are
// keyed by a monotonic sequence so iteration returns them in write order.

var keyPrefix = []byte("a:")

type Record struct {
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	ClOrdID   string `json:"clOrdId,omitempty"`
	Details   string `json:"details,omitempty"`
}

type Journal struct {
	mu    sync.Mutex
	db    *pebble.DB
	seq   uint64
	clock util.Clock
	log   *zap.SugaredLogger
}

// Open creates or reopens the journal at path, restoring the sequence
// counter from the last stored record.
func Open(path string, clock util.Clock, log *zap.SugaredLogger) (*Journal, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	j := &Journal{db: db, clock: clock, log: log}
	if err := j.restoreSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) restoreSeq() error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound(),
	})
	if err != nil {
		return fmt.Errorf("audit iter: %w", err)
	}
	defer iter.Close()
	if iter.Last() {
		j.seq = binary.BigEndian.Uint64(iter.Key()[len(keyPrefix):])
	}
	return iter.Error()
}

func makeKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// upperBound is an exclusive bound just past the largest possible key.
func upperBound() []byte {
	ub := make([]byte, len(keyPrefix))
	copy(ub, keyPrefix)
	ub[len(ub)-1]++
	return ub
}

// Log appends an order-scoped record. Write failures are logged, not
// surfaced; the journal must never stall the order path.
func (j *Journal) Log(event, clOrdID, details string) {
	j.append(Record{Event: event, ClOrdID: clOrdID, Details: details})
}

// LogSystem appends a record with no order reference (startup, session
// lifecycle, shutdown).
func (j *Journal) LogSystem(event, details string) {
	j.append(Record{Event: event, Details: details})
}

func (j *Journal) append(rec Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	rec.Seq = j.seq
	rec.Timestamp = j.clock.Now().UTC().Format(time.RFC3339Nano)
	val, err := json.Marshal(rec)
	if err != nil {
		j.log.Errorw("audit marshal failed", "err", err)
		return
	}
	if err := j.db.Set(makeKey(rec.Seq), val, pebble.NoSync); err != nil {
		j.log.Errorw("audit write failed", "seq", rec.Seq, "err", err)
	}
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: upperBound(),
	})
	if err != nil {
		return nil, fmt.Errorf("audit iter: %w", err)
	}
	defer iter.Close()

	out := make([]Record, 0, limit)
	for ok := iter.Last(); ok && len(out) < limit; ok = iter.Prev() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			j.log.Warnw("audit record skipped", "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
