// Package clients tracks the windows opened on behalf of the worker
package clients

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Window is an open browser window
type Window struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Focused  bool      `json:"focused"`
	OpenedAt time.Time `json:"opened_at"`

	seq uint64
}

// Windows is the set of window clients
type Windows struct {
	mu      sync.Mutex
	seq     uint64
	windows map[string]*Window
}

func NewWindows() *Windows {
	return &Windows{windows: map[string]*Window{}}
}

// OpenWindow focuses the window already showing url, or opens a new one
func (w *Windows) OpenWindow(url string) Window {
	w.mu.Lock()
	defer w.mu.Unlock()

	var target *Window
	for _, win := range w.windows {
		win.Focused = false
		if win.URL == url {
			target = win
		}
	}

	if target != nil {
		target.Focused = true
		logrus.Infof("Focused window %s at %s", target.ID, url)
		return *target
	}

	target = &Window{
		ID:       uuid.NewString(),
		URL:      url,
		Focused:  true,
		OpenedAt: time.Now().UTC(),
	}
	w.seq++
	target.seq = w.seq
	w.windows[target.ID] = target
	logrus.Infof("Opened window %s at %s", target.ID, url)
	return *target
}

// List returns every window, oldest first
func (w *Windows) List() []Window {
	w.mu.Lock()
	out := make([]Window, 0, len(w.windows))
	for _, win := range w.windows {
		out = append(out, *win)
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}
