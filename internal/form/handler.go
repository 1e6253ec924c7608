package form

import (
	"encoding/json"
	"net/http"
)

// Handler exposes the Submitter over HTTP. The gateway mounts it on the
// submit endpoint's own path, so browsers keep posting to the same URL and
// get the queue fallback whenever the endpoint is unreachable.
type Handler struct {
	Submitter *Submitter
}

type submitResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	OrderNumber string       `json:"order_number,omitempty"`
	Queued      bool         `json:"queued,omitempty"`
	Fields      []FieldError `json:"fields,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeSubmitJSON(w, http.StatusMethodNotAllowed, submitResponse{Message: "method not allowed"})
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSubmitJSON(w, http.StatusBadRequest, submitResponse{Message: "request body could not be parsed"})
		return
	}

	out := h.Submitter.Submit(r.Context(), req)
	switch out.Status {
	case StatusDelivered:
		writeSubmitJSON(w, http.StatusOK, submitResponse{
			Success:     true,
			Message:     out.Message,
			OrderNumber: out.OrderNumber,
		})
	case StatusQueued:
		// Accepted, not OK: there is no order number until the drain
		// delivers the record.
		writeSubmitJSON(w, http.StatusAccepted, submitResponse{
			Success: true,
			Message: out.Message,
			Queued:  true,
		})
	case StatusInvalid:
		writeSubmitJSON(w, http.StatusBadRequest, submitResponse{
			Message: out.Message,
			Fields:  out.Fields,
		})
	default:
		code := out.Code
		if code < 400 {
			code = http.StatusBadGateway
		}
		writeSubmitJSON(w, code, submitResponse{Message: out.Message})
	}
}

func writeSubmitJSON(w http.ResponseWriter, status int, resp submitResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
