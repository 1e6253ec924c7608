package form

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"mahgate/internal/logging"
	"mahgate/internal/metrics"
	"mahgate/internal/queue"
	"mahgate/internal/syncer"
)

type Status string

const (
	// StatusDelivered: the endpoint accepted the request.
	StatusDelivered Status = "delivered"
	// StatusQueued: the network was unreachable; the request sits in the
	// local queue and will be retried by the syncer.
	StatusQueued Status = "queued"
	// StatusRejected: the endpoint was reachable and said no. Not queued,
	// re-submission needs explicit user action.
	StatusRejected Status = "rejected"
	// StatusInvalid: local validation failed; nothing left the machine.
	StatusInvalid Status = "invalid"
)

type Outcome struct {
	Status      Status
	Message     string
	OrderNumber string
	Fields      []FieldError

	// Code is the endpoint's HTTP status when it answered, zero otherwise.
	Code int
}

// EndpointResponse is the submission endpoint's reply contract.
type EndpointResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	OrderNumber string `json:"order_number,omitempty"`
}

// Submitter is the client side of the pipeline: validate, try the endpoint
// directly, and fall back to the durable queue when the network is down.
type Submitter struct {
	Endpoint string
	Client   *http.Client
	Queue    *queue.Queue
	Sync     *syncer.Syncer
	Logger   logging.Logger
}

func NewSubmitter(endpoint string, client *http.Client, q *queue.Queue, sync *syncer.Syncer, logger logging.Logger) *Submitter {
	return &Submitter{
		Endpoint: endpoint,
		Client:   client,
		Queue:    q,
		Sync:     sync,
		Logger:   logger,
	}
}

// Submit runs the whole client flow for one form. It always returns a
// usable Outcome; errors are folded into it.
func (s *Submitter) Submit(ctx context.Context, req Request) Outcome {
	if errs := Validate(req); len(errs) > 0 {
		return Outcome{
			Status:  StatusInvalid,
			Message: "please correct the highlighted fields",
			Fields:  errs,
		}
	}

	req = Normalize(req)
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Outcome{Status: StatusInvalid, Message: "could not encode request"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Status: StatusInvalid, Message: "could not build request"}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		// Transport-level failure: the endpoint never saw the request, so
		// queueing is safe.
		return s.queueForLater(req, payload)
	}
	defer resp.Body.Close()

	var er EndpointResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&er); decodeErr != nil {
		er.Message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !er.Success {
		// The endpoint answered and rejected the payload. Retrying the
		// same payload later would fail the same way.
		return Outcome{Status: StatusRejected, Message: er.Message, Code: resp.StatusCode}
	}

	return Outcome{
		Status:      StatusDelivered,
		Message:     er.Message,
		OrderNumber: er.OrderNumber,
		Code:        resp.StatusCode,
	}
}

func (s *Submitter) queueForLater(req Request, payload []byte) Outcome {
	rec := queue.PendingForm{
		ID:          req.RequestID,
		URL:         s.Endpoint,
		ContentType: "application/json",
		Payload:     payload,
	}

	if _, err := s.Queue.Enqueue(rec); err != nil {
		s.Logger.Error("enqueue failed", "err", err.Error())
		return Outcome{
			Status:  StatusRejected,
			Message: "your request could not be sent or saved, please try again",
		}
	}

	if err := s.Sync.Register(); err != nil {
		s.Logger.Error("sync registration failed", "err", err.Error())
	}

	if n, err := s.Queue.Len(); err == nil {
		metrics.SetQueueDepth(n)
	}

	s.Logger.Info("form queued for background sync", "id", rec.ID)
	return Outcome{
		Status:  StatusQueued,
		Message: "you appear to be offline; your request was saved and will be sent automatically",
	}
}
