package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/api"
	"open-pryv.io/core/config"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/storage"
)

func newDispatcherEnv(t *testing.T) (*webhookDispatcher, *storage.Stores) {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	stores := storage.NewMemoryStores()
	return newWebhookDispatcher(&api.Services{Stores: stores, Config: cfg}), stores
}

func storeWebhook(t *testing.T, stores *storage.Stores, url string, maxRetries int) *model.Webhook {
	t.Helper()
	wh := &model.Webhook{
		ID:            "wh-1",
		AccessID:      "acc-1",
		URL:           url,
		State:         model.WebhookActive,
		MinIntervalMs: 1,
		MaxRetries:    maxRetries,
	}
	wh.InitTracking("test", model.Timestamp())
	require.NoError(t, stores.Webhooks.Create(context.Background(), "alice", wh))
	return wh
}

func TestWebhookDeliverySuccess(t *testing.T) {
	var hits int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	d, stores := newDispatcherEnv(t)
	storeWebhook(t, stores, target.URL, 3)

	d.dispatch("alice", notifications.TopicEventsChanged)

	require.Eventually(t, func() bool {
		wh, err := stores.Webhooks.Get(context.Background(), "alice", "wh-1")
		return err == nil && wh.RunCount == 1
	}, time.Second, 5*time.Millisecond)

	wh, err := stores.Webhooks.Get(context.Background(), "alice", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, model.WebhookActive, wh.State)
	assert.Equal(t, 0, wh.CurrentRetries)
	assert.Equal(t, 0, wh.FailCount)
	require.NotNil(t, wh.LastRun)
	assert.Equal(t, http.StatusOK, wh.LastRun.Status)

	// A successful run is not retried.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestWebhookRetriesUntilDeactivation(t *testing.T) {
	var hits int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	d, stores := newDispatcherEnv(t)
	storeWebhook(t, stores, target.URL, 3)

	// One change on a quiet topic; the dispatcher must keep retrying on
	// its own until the retry budget is spent.
	d.dispatch("alice", notifications.TopicEventsChanged)

	require.Eventually(t, func() bool {
		wh, err := stores.Webhooks.Get(context.Background(), "alice", "wh-1")
		return err == nil && wh.State == model.WebhookInactive
	}, time.Second, 5*time.Millisecond)

	wh, err := stores.Webhooks.Get(context.Background(), "alice", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, 3, wh.CurrentRetries)
	assert.Equal(t, 3, wh.FailCount)
	assert.Equal(t, 3, wh.RunCount)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))

	// Deactivated webhooks receive nothing further.
	d.dispatch("alice", notifications.TopicStreamsChanged)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestWebhookRecoversAfterTransientFailure(t *testing.T) {
	var hits int64
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	d, stores := newDispatcherEnv(t)
	storeWebhook(t, stores, target.URL, 5)

	d.dispatch("alice", notifications.TopicEventsChanged)

	require.Eventually(t, func() bool {
		wh, err := stores.Webhooks.Get(context.Background(), "alice", "wh-1")
		return err == nil && wh.LastRun != nil && wh.LastRun.Status == http.StatusOK
	}, time.Second, 5*time.Millisecond)

	wh, err := stores.Webhooks.Get(context.Background(), "alice", "wh-1")
	require.NoError(t, err)
	assert.Equal(t, model.WebhookActive, wh.State)
	assert.Equal(t, 0, wh.CurrentRetries, "a successful retry resets the counter")
	assert.Equal(t, 1, wh.FailCount)
	assert.Equal(t, 2, wh.RunCount)
}
