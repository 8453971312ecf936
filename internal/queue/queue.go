// Package queue persists outbound form submissions that could not be sent,
// so background sync can replay them later.
package queue

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store names
const (
	ContactForms      = "pending-contact-forms"
	NewsletterSignups = "pending-newsletter-signups"
)

// ErrNotFound is returned when removing a record that is not queued
var ErrNotFound = errors.New("record not found")

// Record is one deferred submission
type Record struct {
	ID        string
	Store     string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	CreatedAt time.Time
}

// Request rebuilds the outbound request for the record
func (r Record) Request() (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for record %s: %w", r.ID, err)
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return req, nil
}

// Queue stores records per store, ordered by enqueue time
type Queue struct {
	db *leveldb.DB
}

// Open opens (or creates) the queue database in the given folder
func Open(folder string) (*Queue, error) {
	db, err := leveldb.OpenFile(folder, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database %s: %w", folder, err)
	}
	return &Queue{db: db}, nil
}

// OpenMem opens a queue that lives in memory only
func OpenMem() (*Queue, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory queue database: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close releases the database
func (q *Queue) Close() error {
	return q.db.Close()
}

func storePrefix(store string) []byte {
	return []byte("q:" + store + "\x00")
}

func recordKey(store, id string) []byte {
	return append(storePrefix(store), id...)
}

func validStore(store string) error {
	if store == "" || strings.Contains(store, "\x00") {
		return fmt.Errorf("invalid store name %q", store)
	}
	return nil
}

// Add queues the record in the given store, assigning its ID and creation time
func (q *Queue) Add(store string, rec Record) (Record, error) {
	if err := validStore(store); err != nil {
		return Record{}, err
	}
	if rec.URL == "" {
		return Record{}, fmt.Errorf("record URL is required")
	}

	// v7 ids sort by creation time, so key order is enqueue order
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("failed to generate record id: %w", err)
	}
	rec.ID = id.String()
	rec.Store = store
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Method == "" {
		rec.Method = http.MethodPost
	}

	b, err := encodeGob(rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode record: %w", err)
	}
	if err := q.db.Put(recordKey(store, rec.ID), b, nil); err != nil {
		return Record{}, fmt.Errorf("failed to store record: %w", err)
	}

	logrus.Debugf("Queued record %s in %s for %s", rec.ID, store, rec.URL)
	return rec, nil
}

// List returns every record of the store in enqueue order.
// Records that cannot be decoded are skipped.
func (q *Queue) List(store string) ([]Record, error) {
	if err := validStore(store); err != nil {
		return nil, err
	}

	it := q.db.NewIterator(util.BytesPrefix(storePrefix(store)), nil)
	defer it.Release()

	var records []Record
	for it.Next() {
		var rec Record
		if err := decodeGob(it.Value(), &rec); err != nil {
			logrus.Warnf("Skipping undecodable record %s: %v", it.Key(), err)
			continue
		}
		records = append(records, rec)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", store, err)
	}
	return records, nil
}

// Remove deletes one record from the store
func (q *Queue) Remove(store, id string) error {
	if err := validStore(store); err != nil {
		return err
	}

	key := recordKey(store, id)
	ok, err := q.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("failed to look up record %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrNotFound, id, store)
	}
	if err := q.db.Delete(key, nil); err != nil {
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}
	return nil
}

// Len returns the number of records in the store
func (q *Queue) Len(store string) (int, error) {
	records, err := q.List(store)
	return len(records), err
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
