package httpcache

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/iTrooz/offline-proxy/internal/cache"
	"github.com/sirupsen/logrus"
)

// Storage is the set of named partitions shared by every worker version
type Storage struct {
	db *cache.LevelDB

	mu         sync.Mutex
	partitions map[string]*HTTPCache
	limits     map[string]int
}

// NewStorage builds the partition set on top of an opened database
func NewStorage(db *cache.LevelDB) *Storage {
	return &Storage{
		db:         db,
		partitions: map[string]*HTTPCache{},
		limits:     map[string]int{},
	}
}

// Limit caps the number of entries the named partition may hold once opened.
// Zero leaves it unbounded.
func (s *Storage) Limit(name string, maxEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[name] = maxEntries
}

// Open returns the named partition, creating it when needed
func (s *Storage) Open(name string) (*HTTPCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[name]; ok {
		return p, nil
	}

	var backend cache.GenericCache = s.db.Bucket(name)
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", name, err)
	}

	if limit := s.limits[name]; limit > 0 {
		bounded, err := cache.NewBounded(backend, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to bound partition %s: %w", name, err)
		}
		backend = bounded
		logrus.Debugf("Partition %s capped at %d entries", name, limit)
	}

	p := NewHTTP(name, backend)
	s.partitions[name] = p
	return p, nil
}

// Has reports whether the named partition exists
func (s *Storage) Has(name string) (bool, error) {
	return s.db.HasBucket(name)
}

// Keys lists partition names in creation order
func (s *Storage) Keys() ([]string, error) {
	return s.db.Buckets()
}

// Delete removes the named partition and everything in it
func (s *Storage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partitions, name)
	return s.db.DropBucket(name)
}

// Match looks the request up in every partition, in creation order.
// Returns nil, nil when no partition holds it.
func (s *Storage) Match(req *http.Request) (*http.Response, error) {
	names, err := s.Keys()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		resp, err := s.view(name).GetReq(req)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", name, err)
		}
		if resp != nil {
			logrus.Debugf("Cache hit for %s %s in %s", req.Method, req.URL.String(), name)
			return resp, nil
		}
	}

	return nil, nil
}

// view returns the named partition for reading. Unlike Open it never registers the
// partition, so a lookup racing a Delete cannot bring it back.
func (s *Storage) view(name string) *HTTPCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.partitions[name]; ok {
		return p
	}
	return NewHTTP(name, s.db.Bucket(name))
}

// MatchURL is Match for a bare URL
func (s *Storage) MatchURL(rawURL string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	return s.Match(req)
}
