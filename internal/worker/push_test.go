package worker

import (
	"context"
	"net/http"
	"testing"

	"github.com/iTrooz/offline-proxy/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushShowsNotification(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), PushEvent([]byte(`{"title":"Hi","body":"Test"}`)))
	require.NoError(t, err)

	shown := e.notes.List()
	require.Len(t, shown, 1)
	n := shown[0]
	assert.Equal(t, "Hi", n.Title)
	assert.Equal(t, "Test", n.Body)
	assert.Equal(t, "/pwa-192x192.png", n.Icon)
	assert.Equal(t, "/pwa-192x192.png", n.Badge)
	assert.Equal(t, []int{100, 50, 100}, n.Vibrate)
	assert.Nil(t, n.Data)
	assert.Empty(t, n.Actions)
	assert.NotNil(t, n.Actions)
}

func TestPushWithURLAndActions(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	payload := `{"title":"New work","body":"See it","url":"/gallery","actions":[{"action":"open","title":"Open"}]}`
	_, err := w.Dispatch(context.Background(), PushEvent([]byte(payload)))
	require.NoError(t, err)

	shown := e.notes.List()
	require.Len(t, shown, 1)
	require.NotNil(t, shown[0].Data)
	assert.Equal(t, "/gallery", shown[0].Data.URL)
	assert.Equal(t, []notify.Action{{Action: "open", Title: "Open"}}, shown[0].Actions)
}

func TestPushEmptyPayload(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), PushEvent(nil))
	require.NoError(t, err)
	assert.Empty(t, e.notes.List())
}

func TestPushMalformedPayload(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), PushEvent([]byte(`{"title":`)))
	require.Error(t, err)
	assert.Empty(t, e.notes.List())
}

func TestPushNullPayload(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), PushEvent([]byte(`null`)))
	require.ErrorIs(t, err, ErrNullPush)
	assert.Empty(t, e.notes.List())
}

func TestNotificationClickOpensWindow(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), PushEvent([]byte(`{"title":"Hi","url":"/gallery"}`)))
	require.NoError(t, err)
	n := e.notes.List()[0]

	_, err = w.Dispatch(context.Background(), NotificationClickEvent(n.ID, ""))
	require.NoError(t, err)

	assert.Empty(t, e.notes.List())
	windows := e.windows.List()
	require.Len(t, windows, 1)
	assert.Equal(t, origin+"/gallery", windows[0].URL)
	assert.True(t, windows[0].Focused)
}

func TestNotificationClickFocusesExistingWindow(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))
	existing := e.windows.OpenWindow(origin + "/gallery")
	e.windows.OpenWindow(origin + "/other")

	_, err := w.Dispatch(context.Background(), PushEvent([]byte(`{"title":"Hi","url":"/gallery"}`)))
	require.NoError(t, err)
	_, err = w.Dispatch(context.Background(), NotificationClickEvent(e.notes.List()[0].ID, ""))
	require.NoError(t, err)

	windows := e.windows.List()
	require.Len(t, windows, 2)
	assert.Equal(t, existing.ID, windows[0].ID)
	assert.True(t, windows[0].Focused)
	assert.False(t, windows[1].Focused)
}

func TestNotificationClickWithoutURL(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), PushEvent([]byte(`{"title":"Hi"}`)))
	require.NoError(t, err)
	_, err = w.Dispatch(context.Background(), NotificationClickEvent(e.notes.List()[0].ID, "dismiss"))
	require.NoError(t, err)

	assert.Empty(t, e.notes.List())
	assert.Empty(t, e.windows.List())
}

func TestNotificationClickUnknown(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), NotificationClickEvent("nope", ""))
	assert.ErrorIs(t, err, notify.ErrNotFound)
}

func TestCacheURLsMessage(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))
	e.net.set(origin+"/gallery", http.StatusOK, "gallery")
	e.net.set("https://images.example.com/x.jpg", http.StatusOK, "x")

	err := e.reg.PostMessage(context.Background(), &Message{
		Type: MessageCacheURLs,
		URLs: []string{"/gallery", "https://images.example.com/x.jpg"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		origin + "/gallery",
		"https://images.example.com/x.jpg",
	}, e.partitionKeys(t, w.Version().Dynamic))
}

func TestCacheURLsAllOrNothing(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))
	e.net.set(origin+"/gallery", http.StatusOK, "gallery")

	_, err := w.Dispatch(context.Background(), MessageEvent(&Message{
		Type: MessageCacheURLs,
		URLs: []string{"/gallery", "/missing"},
	}))
	require.Error(t, err)
	assert.Empty(t, e.partitionKeys(t, w.Version().Dynamic))
}

func TestUnknownMessageIgnored(t *testing.T) {
	e := newTestEnv(t)
	w := e.install(t, testConfig("v1"))

	_, err := w.Dispatch(context.Background(), MessageEvent(&Message{Type: "PING"}))
	assert.NoError(t, err)
	_, err = w.Dispatch(context.Background(), MessageEvent(nil))
	assert.NoError(t, err)
}
