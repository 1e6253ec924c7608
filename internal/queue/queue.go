// Package queue holds form submissions that could not be delivered
// immediately. Records survive process restarts and stay put until the
// submission endpoint affirmatively accepts them, so delivery is
// at-least-once.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	formPrefix = "f:"
	tagPrefix  = "t:"
)

// PendingForm is one submission waiting for delivery. It is never updated in
// place; the only mutation is removal after a confirmed success.
type PendingForm struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	ContentType string          `json:"content_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Queue struct {
	db *leveldb.DB
}

func Open(dir string) (*Queue, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open submission queue %s: %w", dir, err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue appends a record. A missing ID or creation time is assigned here.
func (q *Queue) Enqueue(rec PendingForm) (PendingForm, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return PendingForm{}, fmt.Errorf("encode pending form: %w", err)
	}
	if err := q.db.Put(recordKey(rec), b, nil); err != nil {
		return PendingForm{}, fmt.Errorf("enqueue pending form: %w", err)
	}
	return rec, nil
}

// List returns every pending record, oldest first. The order is a courtesy
// for the drain loop, not a correctness requirement: each record is
// independent.
func (q *Queue) List() ([]PendingForm, error) {
	it := q.db.NewIterator(util.BytesPrefix([]byte(formPrefix)), nil)
	defer it.Release()

	var out []PendingForm
	for it.Next() {
		var rec PendingForm
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("list pending forms: %w", err)
	}
	return out, nil
}

// Remove deletes the record with the given id. Removing an id that is not
// present is not an error.
func (q *Queue) Remove(id string) error {
	it := q.db.NewIterator(util.BytesPrefix([]byte(formPrefix)), nil)

	var key []byte
	for it.Next() {
		var rec PendingForm
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		if rec.ID == id {
			key = append([]byte(nil), it.Key()...)
			break
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return fmt.Errorf("remove pending form %s: %w", id, err)
	}
	if key == nil {
		return nil
	}
	if err := q.db.Delete(key, nil); err != nil {
		return fmt.Errorf("remove pending form %s: %w", id, err)
	}
	return nil
}

func (q *Queue) Len() (int, error) {
	it := q.db.NewIterator(util.BytesPrefix([]byte(formPrefix)), nil)
	defer it.Release()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// SetTag persists a sync registration tag, the durable "drain me" intent.
func (q *Queue) SetTag(tag string) error {
	return q.db.Put([]byte(tagPrefix+tag), []byte{1}, nil)
}

func (q *Queue) ClearTag(tag string) error {
	return q.db.Delete([]byte(tagPrefix+tag), nil)
}

func (q *Queue) HasTag(tag string) bool {
	ok, _ := q.db.Has([]byte(tagPrefix+tag), nil)
	return ok
}

func recordKey(rec PendingForm) []byte {
	// Zero-padded nanos keep leveldb's byte order aligned with insertion
	// order; the id suffix breaks ties.
	return []byte(fmt.Sprintf("%s%020d-%s", formPrefix, rec.CreatedAt.UnixNano(), rec.ID))
}
