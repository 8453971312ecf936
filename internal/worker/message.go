package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Control message types
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheURLs   = "CACHE_URLS"
)

// Message is a control message posted to a worker
type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

func (w *Worker) handleMessage(ctx context.Context, ev *Event) (*http.Response, error) {
	msg := ev.Message
	if msg == nil {
		return nil, nil
	}

	switch msg.Type {
	case MessageSkipWaiting:
		return nil, w.SkipWaiting(ctx)
	case MessageCacheURLs:
		return nil, w.precache(ctx, msg.URLs)
	default:
		logrus.Debugf("Worker %s: ignoring message %q", w.version.Tag, msg.Type)
		return nil, nil
	}
}

// precache adds the URLs to the dynamic partition
func (w *Worker) precache(ctx context.Context, urls []string) error {
	resolved := make([]string, 0, len(urls))
	for _, u := range urls {
		abs, err := w.resolve(u)
		if err != nil {
			return fmt.Errorf("invalid URL %s: %w", u, err)
		}
		resolved = append(resolved, abs)
	}

	dynamic, err := w.deps.Caches.Open(w.version.Dynamic)
	if err != nil {
		return fmt.Errorf("opening dynamic partition: %w", err)
	}

	if err := w.addAll(ctx, dynamic, resolved); err != nil {
		return fmt.Errorf("caching URLs: %w", err)
	}

	logrus.Infof("Worker %s: cached %d URLs on request", w.version.Tag, len(resolved))
	return nil
}
