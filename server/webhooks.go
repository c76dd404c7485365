package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"open-pryv.io/core/api"
	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
)

// webhookDispatcher delivers data-change notifications to the user's active
// webhooks. Topics arriving within a webhook's minimum interval are
// coalesced into one delivery carrying all of them.
type webhookDispatcher struct {
	svc    *api.Services
	client *http.Client
	log    *logrus.Entry

	mu sync.Mutex
	// pending holds topics waiting for the next run of one webhook, keyed
	// by username + webhook id.
	pending   map[webhookKey]map[string]bool
	scheduled map[webhookKey]bool
}

type webhookKey struct {
	username string
	id       string
}

func newWebhookDispatcher(svc *api.Services) *webhookDispatcher {
	return &webhookDispatcher{
		svc:       svc,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       common.Logger.WithField("component", "webhooks"),
		pending:   make(map[webhookKey]map[string]bool),
		scheduled: make(map[webhookKey]bool),
	}
}

// subscribe hooks the dispatcher onto every data-change topic.
func (d *webhookDispatcher) subscribe(bus *notifications.Bus) {
	for _, topic := range []string{
		notifications.TopicAccessesChanged,
		notifications.TopicStreamsChanged,
		notifications.TopicEventsChanged,
		notifications.TopicFollowedSlicesChanged,
	} {
		bus.Subscribe(topic, d.notify)
	}
}

// notify fans one change out to the user's active webhooks.
func (d *webhookDispatcher) notify(_ context.Context, msg notifications.Message) {
	if msg.Username == "" {
		return
	}
	go d.dispatch(msg.Username, msg.Topic)
}

func (d *webhookDispatcher) dispatch(username, topic string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	webhooks, err := d.svc.Stores.Webhooks.All(ctx, username)
	if err != nil {
		d.log.WithError(err).WithField("username", username).Warn("failed to load webhooks")
		return
	}
	for _, wh := range webhooks {
		if wh.State != model.WebhookActive {
			continue
		}
		d.enqueue(username, wh.ID, topic, d.delayFor(wh))
	}
}

// delayFor computes how long to wait before the webhook's next run so its
// minimum interval is honored.
func (d *webhookDispatcher) delayFor(wh *model.Webhook) time.Duration {
	if wh.LastRun == nil || wh.MinIntervalMs <= 0 {
		return 0
	}
	elapsed := time.Duration((model.Timestamp() - wh.LastRun.Timestamp) * float64(time.Second))
	interval := time.Duration(wh.MinIntervalMs) * time.Millisecond
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// enqueue records a topic for one webhook and schedules a flush after the
// given delay. Topics arriving while a flush is scheduled ride along with it.
func (d *webhookDispatcher) enqueue(username, webhookID, topic string, delay time.Duration) {
	key := webhookKey{username: username, id: webhookID}

	d.mu.Lock()
	topics, ok := d.pending[key]
	if !ok {
		topics = make(map[string]bool)
		d.pending[key] = topics
	}
	topics[topic] = true
	if d.scheduled[key] {
		d.mu.Unlock()
		return
	}
	d.scheduled[key] = true
	d.mu.Unlock()

	if delay <= 0 {
		d.flush(key)
		return
	}
	time.AfterFunc(delay, func() { d.flush(key) })
}

// flush delivers the accumulated topics in one run.
func (d *webhookDispatcher) flush(key webhookKey) {
	d.mu.Lock()
	topicSet := d.pending[key]
	delete(d.pending, key)
	delete(d.scheduled, key)
	d.mu.Unlock()
	if len(topicSet) == 0 {
		return
	}
	messages := make([]string, 0, len(topicSet))
	for topic := range topicSet {
		messages = append(messages, topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wh, err := d.svc.Stores.Webhooks.Get(ctx, key.username, key.id)
	if err != nil {
		d.log.WithError(err).WithField("webhookId", key.id).Warn("failed to load webhook")
		return
	}
	if wh.State != model.WebhookActive {
		return
	}
	d.run(ctx, key.username, wh, messages)
}

// run performs one delivery attempt and records the outcome on the webhook.
// A failed attempt re-enqueues the undelivered messages so the webhook keeps
// retrying on its own interval until it succeeds or exhausts its retries.
func (d *webhookDispatcher) run(ctx context.Context, username string, wh *model.Webhook, messages []string) {
	status := d.post(ctx, wh.URL, messages)

	now := model.Timestamp()
	run := model.WebhookRun{Status: status, Timestamp: now}
	wh.RunCount++
	wh.LastRun = &run
	wh.Runs = append([]model.WebhookRun{run}, wh.Runs...)
	if max := d.svc.Config.Webhooks.RunsSize; max > 0 && len(wh.Runs) > max {
		wh.Runs = wh.Runs[:max]
	}

	delivered := status >= 200 && status < 300
	if delivered {
		wh.CurrentRetries = 0
	} else {
		wh.FailCount++
		wh.CurrentRetries++
		if wh.CurrentRetries >= wh.MaxRetries {
			wh.State = model.WebhookInactive
			d.log.WithField("username", username).WithField("webhookId", wh.ID).
				Warn("webhook deactivated after repeated failures")
		}
	}
	wh.Touch("system", now)

	if err := d.svc.Stores.Webhooks.Update(ctx, username, wh); err != nil {
		d.log.WithError(err).WithField("webhookId", wh.ID).Warn("failed to record webhook run")
	}

	if !delivered && wh.State == model.WebhookActive {
		delay := d.delayFor(wh)
		if delay <= 0 {
			delay = time.Millisecond
		}
		for _, topic := range messages {
			d.enqueue(username, wh.ID, topic, delay)
		}
	}
}

// post sends the notification payload and returns the HTTP status, 0 when
// the request could not be performed at all.
func (d *webhookDispatcher) post(ctx context.Context, url string, messages []string) int {
	payload, err := json.Marshal(map[string]interface{}{
		"messages": messages,
		"meta":     api.NewMeta(),
	})
	if err != nil {
		return 0
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.WithError(err).WithField("url", url).Debug("webhook delivery failed")
		return 0
	}
	resp.Body.Close()
	return resp.StatusCode
}
