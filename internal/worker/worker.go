// Package worker implements the offline cache manager: a versioned worker that
// intercepts page requests, serves them from cache partitions or the network,
// replays deferred form submissions and shows push notifications.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-proxy/internal/clients"
	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/iTrooz/offline-proxy/internal/metrics"
	"github.com/iTrooz/offline-proxy/internal/notify"
	"github.com/iTrooz/offline-proxy/internal/queue"
	"github.com/sirupsen/logrus"
)

// ErrUnknownEvent is returned when dispatching an event kind with no handler
var ErrUnknownEvent = errors.New("no handler for event")

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// State is the lifecycle state of a worker
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind names the events a worker handles
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
	EventMessage           EventKind = "message"
)

// Event is delivered to a worker by its host
type Event struct {
	Kind EventKind

	// fetch
	Request *http.Request
	// sync
	Tag string
	// push
	Data []byte
	// notificationclick
	NotificationID string
	Action         string
	// message
	Message *Message
}

func FetchEvent(req *http.Request) *Event {
	return &Event{Kind: EventFetch, Request: req}
}

func SyncEvent(tag string) *Event {
	return &Event{Kind: EventSync, Tag: tag}
}

func PushEvent(data []byte) *Event {
	return &Event{Kind: EventPush, Data: data}
}

func NotificationClickEvent(id, action string) *Event {
	return &Event{Kind: EventNotificationClick, NotificationID: id, Action: action}
}

func MessageEvent(msg *Message) *Event {
	return &Event{Kind: EventMessage, Message: msg}
}

// Handler handles one event. The host waits for it to return before
// considering the event settled. Fetch handlers return a nil response
// to let the request through to the network untouched.
type Handler func(ctx context.Context, ev *Event) (*http.Response, error)

// Deps are the shared components a worker runs against
type Deps struct {
	Caches        *httpcache.Storage
	Network       Fetcher
	Queue         *queue.Queue
	Notifications *notify.Center
	Clients       *clients.Windows
	Metrics       *metrics.Metrics
}

// Worker is one version of the offline cache manager
type Worker struct {
	cfg  *config.Config
	deps Deps

	version  Version
	origin   *url.URL
	shellURL string
	static   []string
	router   *router
	icon     string

	handlers map[EventKind]Handler

	state       atomic.Int32
	skipWaiting atomic.Bool

	mu  sync.Mutex
	reg *Registration
}

// NewNetwork returns the client workers fetch with.
// Redirects are returned to the page as they are, never followed.
func NewNetwork() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// New creates a worker for the configured version
func New(cfg *config.Config, deps Deps) (*Worker, error) {
	if deps.Caches == nil {
		return nil, fmt.Errorf("cache storage is required")
	}
	if deps.Network == nil {
		deps.Network = NewNetwork()
	}
	if deps.Notifications == nil {
		deps.Notifications = notify.NewCenter()
	}
	if deps.Clients == nil {
		deps.Clients = clients.NewWindows()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}

	origin, err := url.Parse(cfg.Site.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid site origin: %w", err)
	}

	rt, err := newRouter(origin, cfg.Manifest.Static, cfg.Manifest.Dynamic)
	if err != nil {
		return nil, err
	}

	static := make([]string, 0, len(cfg.Manifest.Static))
	for _, entry := range cfg.Manifest.Static {
		abs, err := resolve(origin, entry)
		if err != nil {
			return nil, fmt.Errorf("static manifest entry %q: %w", entry, err)
		}
		static = append(static, abs)
	}

	shellURL, err := resolve(origin, cfg.Site.Shell)
	if err != nil {
		return nil, fmt.Errorf("invalid shell page: %w", err)
	}

	w := &Worker{
		cfg:      cfg,
		deps:     deps,
		version:  NewVersion(cfg.Worker.Version),
		origin:   origin,
		shellURL: shellURL,
		static:   static,
		router:   rt,
		icon:     cfg.Notifications.Icon,
	}

	deps.Caches.Limit(w.version.Dynamic, cfg.Cache.DynamicMaxEntries)

	w.handlers = map[EventKind]Handler{
		EventInstall:           w.handleInstall,
		EventActivate:          w.handleActivate,
		EventFetch:             w.handleFetch,
		EventSync:              w.handleSync,
		EventPush:              w.handlePush,
		EventNotificationClick: w.handleNotificationClick,
		EventMessage:           w.handleMessage,
	}

	w.setState(StateParsed)
	return w, nil
}

// fresh builds a new worker from the same configuration, for install retries
func (w *Worker) fresh() (*Worker, error) {
	return New(w.cfg, w.deps)
}

// Dispatch runs the handler for the event and waits for it
func (w *Worker) Dispatch(ctx context.Context, ev *Event) (*http.Response, error) {
	h, ok := w.handlers[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}
	return h(ctx, ev)
}

// Version returns the cache generation of the worker
func (w *Worker) Version() Version {
	return w.version
}

// State returns the lifecycle state
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.deps.Metrics.SetState(w.version.Tag, s.String())
	logrus.Debugf("Worker %s: %s", w.version.Tag, s)
}

// Classify returns the route the request would be served through
func (w *Worker) Classify(req *http.Request) Route {
	return w.router.classify(req)
}

func (w *Worker) bind(r *Registration) {
	w.mu.Lock()
	w.reg = r
	w.mu.Unlock()
}

func (w *Worker) registration() *Registration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reg
}

// SkipWaiting asks the host to activate the worker as soon as it is installed
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.skipWaiting.Store(true)
	if w.State() != StateInstalled {
		return nil
	}
	if r := w.registration(); r != nil {
		return r.activate(ctx, w)
	}
	return nil
}

// Claim makes the worker control every client of its registration
func (w *Worker) Claim() {
	if r := w.registration(); r != nil {
		r.claim(w)
	}
}

func (w *Worker) resolve(raw string) (string, error) {
	return resolve(w.origin, raw)
}
