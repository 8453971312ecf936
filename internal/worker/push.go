package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-proxy/internal/notify"
	"github.com/sirupsen/logrus"
)

// PushPayload is the JSON body of a push message
type PushPayload struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	URL     string          `json:"url,omitempty"`
	Actions []notify.Action `json:"actions,omitempty"`
}

var pushVibrate = []int{100, 50, 100}

// ErrNullPush is returned for a push whose payload is the JSON null
var ErrNullPush = errors.New("push payload is null")

func (w *Worker) handlePush(_ context.Context, ev *Event) (*http.Response, error) {
	if len(ev.Data) == 0 {
		return nil, nil
	}

	var payload *PushPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return nil, fmt.Errorf("parsing push payload: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("parsing push payload: %w", ErrNullPush)
	}

	opts := notify.Options{
		Body:    payload.Body,
		Icon:    w.icon,
		Badge:   w.icon,
		Vibrate: append([]int(nil), pushVibrate...),
		Actions: payload.Actions,
	}
	if payload.URL != "" {
		opts.Data = &notify.Data{URL: payload.URL}
	}

	w.showNotification(payload.Title, opts)
	return nil, nil
}

func (w *Worker) handleNotificationClick(_ context.Context, ev *Event) (*http.Response, error) {
	n, err := w.deps.Notifications.Get(ev.NotificationID)
	if err != nil {
		return nil, err
	}

	if err := w.deps.Notifications.Close(n.ID); err != nil {
		logrus.Debugf("Notification %s already closed: %v", n.ID, err)
	}

	if n.Data == nil || n.Data.URL == "" {
		return nil, nil
	}

	target, err := w.resolve(n.Data.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid notification URL %s: %w", n.Data.URL, err)
	}
	w.deps.Clients.OpenWindow(target)
	return nil, nil
}
