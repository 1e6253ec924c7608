// Package form implements the product-request form: field validation shared
// by client and endpoint, and the client-side submitter with its offline
// queue fallback.
package form

import (
	"net/mail"
	"regexp"
	"strings"
)

// Request is the product-request payload the submission endpoint accepts.
type Request struct {
	FullName        string `json:"fullName"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	ProductLink     string `json:"productLink"`
	PaymentMethod   string `json:"paymentMethod"`
	CouponCode      string `json:"couponCode,omitempty"`
	Country         string `json:"country,omitempty"`
	ProductQuantity int    `json:"productQuantity,omitempty"`
	ProductNotes    string `json:"productNotes,omitempty"`

	// RequestID is a client-generated idempotency key. The submitter stamps
	// it before first delivery so retries after a crash do not produce two
	// orders.
	RequestID string `json:"requestId,omitempty"`
}

// FieldError names one offending field so the caller can annotate it in
// place. Validation reports values, it never panics or errors out.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,18}[0-9]$`)
	linkRe  = regexp.MustCompile(`^(https?://)?([\da-z.-]+)\.([a-z.]{2,6})([/\w .-]*)*/?$`)
)

const maxQuantity = 1000

// Validate checks every field and returns the full list of failures. An
// empty result means the request may be submitted.
func Validate(r Request) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(r.FullName) == "" {
		errs = append(errs, FieldError{"fullName", "full name is required"})
	}

	phone := strings.TrimSpace(r.Phone)
	switch {
	case phone == "":
		errs = append(errs, FieldError{"phone", "phone number is required"})
	case !phoneRe.MatchString(phone):
		errs = append(errs, FieldError{"phone", "phone number format is invalid"})
	}

	email := strings.TrimSpace(r.Email)
	switch {
	case email == "":
		errs = append(errs, FieldError{"email", "email is required"})
	default:
		if _, err := mail.ParseAddress(email); err != nil {
			errs = append(errs, FieldError{"email", "email address is invalid"})
		}
	}

	link := strings.TrimSpace(r.ProductLink)
	switch {
	case link == "":
		errs = append(errs, FieldError{"productLink", "product link is required"})
	case !linkRe.MatchString(strings.ToLower(link)):
		errs = append(errs, FieldError{"productLink", "product link format is invalid"})
	}

	switch strings.TrimSpace(r.PaymentMethod) {
	case "":
		errs = append(errs, FieldError{"paymentMethod", "payment method is required"})
	case "50-50", "100":
	default:
		errs = append(errs, FieldError{"paymentMethod", "payment method must be 50-50 or 100"})
	}

	if r.ProductQuantity < 0 || r.ProductQuantity > maxQuantity {
		errs = append(errs, FieldError{"productQuantity", "quantity is out of range"})
	}

	return errs
}

// Normalize fills the defaults the endpoint assumes for optional fields.
func Normalize(r Request) Request {
	if strings.TrimSpace(r.Country) == "" {
		r.Country = "Egypt"
	}
	if r.ProductQuantity == 0 {
		r.ProductQuantity = 1
	}
	return r
}
