// Package submit implements the product-request endpoint: the HTTP POST
// surface the form controller and the sync drain deliver to.
package submit

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"mahgate/internal/form"
	"mahgate/internal/logging"
)

const maxSeen = 4096

type response struct {
	Success     bool              `json:"success"`
	Message     string            `json:"message"`
	OrderNumber string            `json:"order_number,omitempty"`
	Fields      []form.FieldError `json:"fields,omitempty"`
}

type Handler struct {
	Mailer     Mailer
	RequestLog *RequestLog
	Log        logging.Logger

	now       func() time.Time
	sanitizer *bluemonday.Policy

	// seen replays the original success for a duplicate requestId, so an
	// at-least-once drain does not mail the same order twice. Best effort:
	// process-local and bounded.
	mu   sync.Mutex
	seen map[string]response
}

func NewHandler(mailer Mailer, requestLog *RequestLog, logger logging.Logger) *Handler {
	return &Handler{
		Mailer:     mailer,
		RequestLog: requestLog,
		Log:        logger,
		now:        time.Now,
		sanitizer:  bluemonday.StrictPolicy(),
		seen:       make(map[string]response),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, response{
			Success: false,
			Message: "method not allowed",
		})
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: "request body could not be parsed",
		})
		return
	}

	if errs := form.Validate(req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: "missing or invalid field: " + errs[0].Field,
			Fields:  errs,
		})
		return
	}

	if req.RequestID != "" {
		if prev, ok := h.replay(req.RequestID); ok {
			h.Log.Info("duplicate request replayed", "requestId", req.RequestID, "order", prev.OrderNumber)
			writeJSON(w, http.StatusOK, prev)
			return
		}
	}

	req = h.sanitize(form.Normalize(req))

	now := h.now()
	orderNumber := "MAH-" + now.Format("20060102150405") + strconv.Itoa(rand.Intn(900)+100)

	body, err := renderEmail(req, orderNumber, now)
	if err != nil {
		h.Log.Error("email render failed", "err", err.Error())
		writeJSON(w, http.StatusInternalServerError, response{
			Success: false,
			Message: "an error occurred while sending your request, please try again",
		})
		return
	}

	msg := Message{
		Subject:  "New product request - MahWAY",
		HTMLBody: body,
		ReplyTo:  req.Email,
	}
	if err := h.Mailer.Send(r.Context(), msg); err != nil {
		h.Log.Error("mail send failed", "order", orderNumber, "err", err.Error())
		writeJSON(w, http.StatusInternalServerError, response{
			Success: false,
			Message: "an error occurred while sending your request, please try again",
		})
		return
	}

	if h.RequestLog != nil {
		entry := LogEntry{
			Timestamp:     now.Format("2006-01-02 15:04:05"),
			OrderNumber:   orderNumber,
			CustomerName:  req.FullName,
			CustomerEmail: req.Email,
			CustomerPhone: req.Phone,
			ProductLink:   req.ProductLink,
			PaymentMethod: req.PaymentMethod,
			Status:        "pending",
		}
		if err := h.RequestLog.Append(entry, now); err != nil {
			h.Log.Error("request log append failed", "order", orderNumber, "err", err.Error())
		}
	}

	resp := response{
		Success:     true,
		Message:     "your request was sent successfully",
		OrderNumber: orderNumber,
	}
	if req.RequestID != "" {
		h.remember(req.RequestID, resp)
	}

	h.Log.Info("product request accepted", "order", orderNumber, "email", req.Email)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) replay(requestID string) (response, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.seen[requestID]
	return prev, ok
}

func (h *Handler) remember(requestID string, resp response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.seen) >= maxSeen {
		h.seen = make(map[string]response)
	}
	h.seen[requestID] = resp
}

func (h *Handler) sanitize(req form.Request) form.Request {
	req.FullName = h.sanitizer.Sanitize(strings.TrimSpace(req.FullName))
	req.Phone = h.sanitizer.Sanitize(strings.TrimSpace(req.Phone))
	req.Email = h.sanitizer.Sanitize(strings.TrimSpace(req.Email))
	req.ProductLink = h.sanitizer.Sanitize(strings.TrimSpace(req.ProductLink))
	req.CouponCode = h.sanitizer.Sanitize(strings.TrimSpace(req.CouponCode))
	req.Country = h.sanitizer.Sanitize(strings.TrimSpace(req.Country))
	req.ProductNotes = h.sanitizer.Sanitize(strings.TrimSpace(req.ProductNotes))
	return req
}

// decodeRequest accepts either a JSON body or a classic form post, same as
// the endpoint always has.
func decodeRequest(r *http.Request) (form.Request, error) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		var req form.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return form.Request{}, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return form.Request{}, err
	}
	qty := 0
	if v := r.PostFormValue("productQuantity"); v != "" {
		qty, _ = strconv.Atoi(v)
	}
	return form.Request{
		FullName:        r.PostFormValue("fullName"),
		Phone:           r.PostFormValue("phone"),
		Email:           r.PostFormValue("email"),
		ProductLink:     r.PostFormValue("productLink"),
		PaymentMethod:   r.PostFormValue("paymentMethod"),
		CouponCode:      r.PostFormValue("couponCode"),
		Country:         r.PostFormValue("country"),
		ProductQuantity: qty,
		ProductNotes:    r.PostFormValue("productNotes"),
		RequestID:       r.PostFormValue("requestId"),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
