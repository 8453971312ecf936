package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-proxy/internal/notify"
	"github.com/iTrooz/offline-proxy/internal/queue"
	"github.com/sirupsen/logrus"
)

// Background sync tags
const (
	TagContactForm = "contact-form-sync"
	TagNewsletter  = "newsletter-sync"
)

// replayTarget describes what a sync tag drains and how success is announced
type replayTarget struct {
	store string
	title string
	opts  notify.Options
}

func (w *Worker) replayTarget(tag string) (replayTarget, bool) {
	switch tag {
	case TagContactForm:
		return replayTarget{
			store: queue.ContactForms,
			title: "Message Sent!",
			opts: notify.Options{
				Body:  "Your contact form was submitted successfully.",
				Icon:  w.icon,
				Badge: w.icon,
			},
		}, true
	case TagNewsletter:
		return replayTarget{
			store: queue.NewsletterSignups,
			title: "Newsletter Subscription Confirmed!",
			opts: notify.Options{
				Body: "You have been successfully subscribed to updates.",
				Icon: w.icon,
			},
		}, true
	}
	return replayTarget{}, false
}

// StoreForTag returns the queue store a sync tag drains
func StoreForTag(tag string) (string, bool) {
	switch tag {
	case TagContactForm:
		return queue.ContactForms, true
	case TagNewsletter:
		return queue.NewsletterSignups, true
	}
	return "", false
}

// TagForStore returns the sync tag draining a queue store
func TagForStore(store string) (string, bool) {
	switch store {
	case queue.ContactForms:
		return TagContactForm, true
	case queue.NewsletterSignups:
		return TagNewsletter, true
	}
	return "", false
}

func (w *Worker) handleSync(ctx context.Context, ev *Event) (*http.Response, error) {
	target, ok := w.replayTarget(ev.Tag)
	if !ok {
		logrus.Debugf("Worker %s: ignoring sync tag %q", w.version.Tag, ev.Tag)
		return nil, nil
	}
	return nil, w.replay(ctx, ev.Tag, target)
}

// replay resends every queued record of the target store.
// Records that fail stay queued and are reported in the returned error.
func (w *Worker) replay(ctx context.Context, tag string, target replayTarget) error {
	if w.deps.Queue == nil {
		logrus.Warnf("Worker %s: no submission queue configured, nothing to replay for %s", w.version.Tag, tag)
		return nil
	}

	records, err := w.deps.Queue.List(target.store)
	if err != nil {
		logrus.Errorf("Background sync %s failed: %v", tag, err)
		return fmt.Errorf("listing %s: %w", target.store, err)
	}

	var failed []error
	for _, rec := range records {
		if err := w.resend(ctx, rec); err != nil {
			logrus.Errorf("Failed to sync record %s from %s: %v", rec.ID, target.store, err)
			w.deps.Metrics.Replays.WithLabelValues(tag, "failed").Inc()
			failed = append(failed, fmt.Errorf("record %s: %w", rec.ID, err))
			continue
		}

		if err := w.deps.Queue.Remove(target.store, rec.ID); err != nil {
			logrus.Errorf("Failed to remove synced record %s: %v", rec.ID, err)
		}
		w.deps.Metrics.Replays.WithLabelValues(tag, "sent").Inc()
		w.showNotification(target.title, target.opts)
	}

	return errors.Join(failed...)
}

func (w *Worker) resend(ctx context.Context, rec queue.Record) error {
	target, err := w.resolve(rec.URL)
	if err != nil {
		return fmt.Errorf("invalid URL %s: %w", rec.URL, err)
	}
	rec.URL = target

	req, err := rec.Request()
	if err != nil {
		return err
	}

	resp, err := w.deps.Network.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if !isOK(resp) {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) showNotification(title string, opts notify.Options) {
	if _, err := w.deps.Notifications.Show(title, opts); err != nil {
		logrus.Errorf("Failed to show notification %q: %v", title, err)
		return
	}
	w.deps.Metrics.Notifications.Inc()
}
