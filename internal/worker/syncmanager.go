package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ProbeFunc reports whether the network is reachable
type ProbeFunc func(ctx context.Context) bool

// OriginProber probes connectivity with a HEAD request to the site origin.
// Any answer, whatever its status, counts as online.
func OriginProber(f Fetcher, origin string) ProbeFunc {
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin, nil)
		if err != nil {
			return false
		}
		resp, err := f.Do(req)
		if err != nil {
			logrus.Debugf("Origin %s unreachable: %v", origin, err)
			return false
		}
		_ = resp.Body.Close()
		return true
	}
}

// SyncManager holds registered sync tags and fires them at the active worker
// once the network is reachable. Tags whose replay fails stay pending.
type SyncManager struct {
	reg      *Registration
	interval time.Duration
	probe    ProbeFunc

	mu      sync.Mutex
	pending map[string]*pendingSync
	kick    chan struct{}
}

// pendingSync is a registered tag. gen grows on every registration so a flush
// only drops the tag when nobody registered it again while it was replaying.
type pendingSync struct {
	since time.Time
	gen   uint64
}

func NewSyncManager(reg *Registration, interval time.Duration, probe ProbeFunc) *SyncManager {
	if probe == nil {
		probe = func(context.Context) bool { return true }
	}
	return &SyncManager{
		reg:      reg,
		interval: interval,
		probe:    probe,
		pending:  map[string]*pendingSync{},
		kick:     make(chan struct{}, 1),
	}
}

// Register records a tag and wakes the loop.
// Registering a pending tag again keeps its position but makes it fire once more.
func (s *SyncManager) Register(tag string) {
	s.mu.Lock()
	if p, ok := s.pending[tag]; ok {
		p.gen++
	} else {
		s.pending[tag] = &pendingSync{since: time.Now()}
		logrus.Infof("Sync %s registered", tag)
	}
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Pending returns the registered tags, oldest first
func (s *SyncManager) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0, len(s.pending))
	for tag := range s.pending {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		ti, tj := s.pending[tags[i]].since, s.pending[tags[j]].since
		if ti.Equal(tj) {
			return tags[i] < tags[j]
		}
		return ti.Before(tj)
	})
	return tags
}

// Flush fires every pending tag once if the network is reachable
func (s *SyncManager) Flush(ctx context.Context) error {
	tags := s.Pending()
	if len(tags) == 0 {
		return nil
	}
	if !s.probe(ctx) {
		logrus.Debugf("Offline, keeping %d sync tags pending", len(tags))
		return nil
	}

	w := s.reg.Active()
	if w == nil {
		return ErrNoWorker
	}

	var errs []error
	for _, tag := range tags {
		gen, ok := s.generation(tag)
		if !ok {
			continue
		}
		if _, err := w.Dispatch(ctx, SyncEvent(tag)); err != nil {
			logrus.Warnf("Sync %s failed, will retry: %v", tag, err)
			errs = append(errs, fmt.Errorf("sync %s: %w", tag, err))
			continue
		}
		if !s.complete(tag, gen) {
			logrus.Debugf("Sync %s registered again during replay, keeping it", tag)
			continue
		}
		logrus.Infof("Sync %s completed", tag)
	}
	return errors.Join(errs...)
}

func (s *SyncManager) generation(tag string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[tag]
	if !ok {
		return 0, false
	}
	return p.gen, true
}

// complete drops the tag unless it was registered again after gen was read
func (s *SyncManager) complete(tag string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[tag]
	if !ok {
		return true
	}
	if p.gen != gen {
		return false
	}
	delete(s.pending, tag)
	return true
}

// Run flushes pending tags on every registration and every interval until ctx is done
func (s *SyncManager) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
		case <-tick:
		}
		if err := s.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.Debugf("Sync flush: %v", err)
		}
	}
}
