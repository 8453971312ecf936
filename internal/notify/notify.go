// Package notify keeps the notifications shown to the user
package notify

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned for unknown notification ids
var ErrNotFound = errors.New("notification not found")

// Action is a button offered on a notification
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data is the payload carried by a notification
type Data struct {
	URL string `json:"url,omitempty"`
}

// Options mirrors the display options of a notification
type Options struct {
	Body    string   `json:"body,omitempty"`
	Icon    string   `json:"icon,omitempty"`
	Badge   string   `json:"badge,omitempty"`
	Vibrate []int    `json:"vibrate,omitempty"`
	Data    *Data    `json:"data,omitempty"`
	Actions []Action `json:"actions"`
}

// Notification is a shown notification
type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	ShownAt time.Time `json:"shown_at"`
	Options

	seq uint64
}

// Center holds the notifications currently displayed
type Center struct {
	mu    sync.Mutex
	seq   uint64
	shown map[string]Notification
}

func NewCenter() *Center {
	return &Center{shown: map[string]Notification{}}
}

// Show displays a notification and returns it
func (c *Center) Show(title string, opts Options) (Notification, error) {
	if opts.Actions == nil {
		opts.Actions = []Action{}
	}

	n := Notification{
		ID:      uuid.NewString(),
		Title:   title,
		ShownAt: time.Now().UTC(),
		Options: opts,
	}

	c.mu.Lock()
	c.seq++
	n.seq = c.seq
	c.shown[n.ID] = n
	c.mu.Unlock()

	logrus.Infof("Notification shown: %q (%s)", title, n.ID)
	return n, nil
}

// Get returns a displayed notification
func (c *Center) Get(id string) (Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.shown[id]
	if !ok {
		return Notification{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, nil
}

// Close dismisses a notification
func (c *Center) Close(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.shown[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(c.shown, id)
	logrus.Debugf("Notification closed: %s", id)
	return nil
}

// List returns displayed notifications, oldest first
func (c *Center) List() []Notification {
	c.mu.Lock()
	out := make([]Notification, 0, len(c.shown))
	for _, n := range c.shown {
		out = append(out, n)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}
