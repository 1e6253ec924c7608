// Package syncer drains the local submission queue once connectivity comes
// back. Drains are triggered by the origin pool's back-online signal, with a
// ticker as the fallback for missed transitions.
package syncer

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"mahgate/internal/logging"
	"mahgate/internal/metrics"
	"mahgate/internal/queue"
)

type Syncer struct {
	Queue  *queue.Queue
	Client *http.Client
	Logger logging.Logger
	Tag    string
}

func New(q *queue.Queue, client *http.Client, logger logging.Logger, tag string) *Syncer {
	return &Syncer{
		Queue:  q,
		Client: client,
		Logger: logger,
		Tag:    tag,
	}
}

// Register persists the drain intent. Registering an already-registered tag
// is a no-op.
func (s *Syncer) Register() error {
	return s.Queue.SetTag(s.Tag)
}

func (s *Syncer) Registered() bool {
	return s.Queue.HasTag(s.Tag)
}

// Run waits for wake-ups: an origin back-online signal or the fallback tick.
// Each wake-up drains the queue if a registration is pending.
func (s *Syncer) Run(ctx context.Context, online <-chan struct{}, fallbackEvery time.Duration) {
	ticker := time.NewTicker(fallbackEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-online:
		case <-ticker.C:
		}

		// A record whose registration write failed must not be stranded:
		// a non-empty queue drains even without the tag.
		if !s.Registered() {
			n, err := s.Queue.Len()
			if err != nil || n == 0 {
				continue
			}
		}
		if _, _, err := s.Drain(ctx); err != nil {
			s.Logger.Error("queue drain failed", "err", err.Error())
		}
	}
}

// Drain attempts every pending record once, oldest first. A record is
// removed only after the endpoint accepts it; one record's failure never
// aborts the batch. Leftovers stay registered for the next wake-up.
func (s *Syncer) Drain(ctx context.Context) (delivered, left int, err error) {
	records, err := s.Queue.List()
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return delivered, left, err
		}

		if s.deliver(ctx, rec) {
			if err := s.Queue.Remove(rec.ID); err != nil {
				s.Logger.Error("remove delivered form failed", "id", rec.ID, "err", err.Error())
				left++
				continue
			}
			delivered++
			metrics.IncSyncAttempt("delivered")
			s.Logger.Info("queued form delivered", "id", rec.ID)
		} else {
			left++
			metrics.IncSyncAttempt("failed")
			s.Logger.Error("queued form delivery failed", "id", rec.ID)
		}
	}

	if left == 0 {
		if err := s.Queue.ClearTag(s.Tag); err != nil {
			s.Logger.Error("clear sync tag failed", "err", err.Error())
		}
	}
	metrics.SetQueueDepth(left)

	return delivered, left, nil
}

func (s *Syncer) deliver(ctx context.Context, rec queue.PendingForm) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.URL, bytes.NewReader(rec.Payload))
	if err != nil {
		return false
	}
	ct := rec.ContentType
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)

	resp, err := s.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
