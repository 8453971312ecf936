package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	b:<bucket>             -> creation sequence (uint64, big endian)
//	e:<bucket>\x00<key>    -> value
const (
	bucketPrefix = "b:"
	entryPrefix  = "e:"
	keySep       = "\x00"
)

// LevelDB stores named buckets of cached data in a single leveldb database
type LevelDB struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

// OpenLevelDB opens (or creates) the database in the given folder
func OpenLevelDB(folder string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(folder, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database %s: %w", folder, err)
	}
	return newLevelDB(db)
}

// OpenMemLevelDB opens a database that lives in memory only
func OpenMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory cache database: %w", err)
	}
	return newLevelDB(db)
}

func newLevelDB(db *leveldb.DB) (*LevelDB, error) {
	l := &LevelDB{db: db}

	buckets, err := l.bucketSeqs()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, seq := range buckets {
		if seq > l.seq {
			l.seq = seq
		}
	}

	return l, nil
}

// Close releases the database
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// Bucket returns the bucket with the given name. The bucket is only registered once Init or Set is called.
func (l *LevelDB) Bucket(name string) GenericCache {
	return &bucket{store: l, name: name}
}

// HasBucket reports whether the bucket has been registered
func (l *LevelDB) HasBucket(name string) (bool, error) {
	ok, err := l.db.Has([]byte(bucketPrefix+name), nil)
	if err != nil {
		return false, fmt.Errorf("failed to look up bucket %s: %w", name, err)
	}
	return ok, nil
}

// Buckets lists registered bucket names in creation order
func (l *LevelDB) Buckets() ([]string, error) {
	seqs, err := l.bucketSeqs()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seqs))
	for name := range seqs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return seqs[names[i]] < seqs[names[j]]
	})
	return names, nil
}

// DropBucket deletes the bucket and every entry in it.
// Returns false when the bucket did not exist.
func (l *LevelDB) DropBucket(name string) (bool, error) {
	exists, err := l.HasBucket(name)
	if err != nil || !exists {
		return false, err
	}

	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix([]byte(entryPrefix+name+keySep)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, fmt.Errorf("failed to iterate bucket %s: %w", name, err)
	}
	batch.Delete([]byte(bucketPrefix + name))

	if err := l.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("failed to drop bucket %s: %w", name, err)
	}

	logrus.Debugf("Dropped cache bucket %s (%d keys)", name, batch.Len()-1)
	return true, nil
}

func (l *LevelDB) bucketSeqs() (map[string]uint64, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(bucketPrefix)), nil)
	defer it.Release()

	seqs := map[string]uint64{}
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), []byte(bucketPrefix)))
		if len(it.Value()) != 8 {
			continue
		}
		seqs[name] = binary.BigEndian.Uint64(it.Value())
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	return seqs, nil
}

func (l *LevelDB) register(name string) error {
	if name == "" || strings.Contains(name, keySep) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	exists, err := l.HasBucket(name)
	if err != nil || exists {
		return err
	}

	l.seq++
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], l.seq)
	if err := l.db.Put([]byte(bucketPrefix+name), v[:], nil); err != nil {
		return fmt.Errorf("failed to register bucket %s: %w", name, err)
	}

	logrus.Debugf("Registered cache bucket %s", name)
	return nil
}

// bucket implements GenericCache for one named bucket
type bucket struct {
	store *LevelDB
	name  string
}

func (b *bucket) entryKey(key string) []byte {
	return []byte(entryPrefix + b.name + keySep + key)
}

func (b *bucket) Init() error {
	return b.store.register(b.name)
}

func (b *bucket) Get(key string) ([]byte, error) {
	data, err := b.store.db.Get(b.entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from bucket %s: %w", key, b.name, err)
	}
	return data, nil
}

func (b *bucket) Set(key string, value []byte) error {
	if err := b.Init(); err != nil {
		return err
	}
	if err := b.store.db.Put(b.entryKey(key), value, nil); err != nil {
		return fmt.Errorf("failed to write %s to bucket %s: %w", key, b.name, err)
	}
	return nil
}

func (b *bucket) Delete(key string) error {
	if err := b.store.db.Delete(b.entryKey(key), nil); err != nil {
		return fmt.Errorf("failed to delete %s from bucket %s: %w", key, b.name, err)
	}
	return nil
}

func (b *bucket) Keys() ([]string, error) {
	prefix := []byte(entryPrefix + b.name + keySep)
	it := b.store.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", b.name, err)
	}
	return keys, nil
}
