package tradelog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// entry is one pending write travelling through the persistence channel.
type entry struct {
	key   []byte
	value []byte
}

// badgerRecorder is the BadgerDB implementation of the Recorder. Writes
// go through a buffered channel into a background loop; a full channel
// drops the entry rather than blocking the caller.
type badgerRecorder struct {
	db       *badger.DB
	writeCh  chan entry
	stopCh   chan struct{}
	doneWG   sync.WaitGroup
	stopOnce sync.Once
}

// NewBadgerRecorder opens (or creates) the trade log database at dbPath
// and starts the persistence loop.
func NewBadgerRecorder(dbPath string) (Recorder, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep the app's logs clean;
	// errors still come back from the DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	r := &badgerRecorder{
		db:      db,
		writeCh: make(chan entry, 1024),
		stopCh:  make(chan struct{}),
	}
	r.doneWG.Add(1)
	go r.persistenceLoop()
	return r, nil
}

func (r *badgerRecorder) persistenceLoop() {
	defer r.doneWG.Done()
	for {
		select {
		case e := <-r.writeCh:
			r.write(e)
		case <-r.stopCh:
			// Drain what is already queued before shutting down.
			for {
				select {
				case e := <-r.writeCh:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *badgerRecorder) write(e entry) {
	_ = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(e.key, e.value)
	})
}

// fillKey builds "fill:<botID>:<nanos>:<uuid8>". The timestamp keeps the
// per-bot prefix in chronological order; the uuid fragment breaks ties.
func fillKey(botID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("fill:%s:%020d:%s", botID, ts.UnixNano(), uuid.NewString()[:8]))
}

func rebalanceKey(botID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("rebalance:%s:%020d:%s", botID, ts.UnixNano(), uuid.NewString()[:8]))
}

func (r *badgerRecorder) RecordFill(botID string, fill models.Fill) error {
	if fill.Timestamp.IsZero() {
		fill.Timestamp = time.Now()
	}
	data, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	return r.enqueue(entry{key: fillKey(botID, fill.Timestamp), value: data})
}

func (r *badgerRecorder) RecordRebalance(botID string, event models.RebalanceEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.enqueue(entry{key: rebalanceKey(botID, event.Timestamp), value: data})
}

func (r *badgerRecorder) enqueue(e entry) error {
	select {
	case r.writeCh <- e:
		return nil
	default:
		return fmt.Errorf("trade log write queue is full, entry dropped")
	}
}

// Fills reads back the newest fills for a bot. It flushes the queue
// first so a read right after a write sees the write.
func (r *badgerRecorder) Fills(botID string, limit int) ([]models.Fill, error) {
	r.flush()

	prefix := []byte("fill:" + botID + ":")
	var fills []models.Fill
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		// Newest first: keys are chronological, so iterate backwards
		// from just past the prefix.
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(fills) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var f models.Fill
				if err := json.Unmarshal(val, &f); err != nil {
					return err
				}
				fills = append(fills, f)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return fills, err
}

// flush synchronously drains the write channel.
func (r *badgerRecorder) flush() {
	for {
		select {
		case e := <-r.writeCh:
			r.write(e)
		default:
			return
		}
	}
}

// Close stops the persistence loop, drains the queue and closes the
// database.
func (r *badgerRecorder) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.doneWG.Wait()
	r.flush()
	return r.db.Close()
}
