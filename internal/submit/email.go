package submit

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"mahgate/internal/form"
)

var emailTmpl = template.Must(template.New("order").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>New Product Request</title></head>
<body style="font-family:sans-serif;color:#333;background:#f4f4f4;padding:20px;">
  <div style="max-width:600px;margin:0 auto;background:#fff;border-radius:10px;overflow:hidden;">
    <div style="background:#2c3e50;color:#fff;padding:30px;text-align:center;">
      <h1 style="margin:0;">MahWAY — New Product Request</h1>
    </div>
    <div style="padding:30px;">
      <h2>Customer</h2>
      <p>Name: {{.FullName}}<br>
         Phone: {{.Phone}}<br>
         Email: {{.Email}}<br>
         Country: {{.Country}}</p>
      <h2>Product</h2>
      <p>Link: <a href="{{.ProductLink}}">{{.ProductLink}}</a><br>
         Quantity: {{.ProductQuantity}}<br>
         Coupon code: {{.CouponCode}}<br>
         Notes: {{.ProductNotes}}</p>
      <h2>Payment</h2>
      <p>{{.PaymentText}}{{if .Priority}} <strong>(priority)</strong>{{end}}</p>
      <h2>Order</h2>
      <p>Placed at: {{.PlacedAt}}<br>
         Order number: {{.OrderNumber}}<br>
         Status: pending review</p>
      <p><strong>Note:</strong> contact the customer within 24 hours to confirm the
         order and settle the final price.</p>
    </div>
    <div style="background:#f8f9fa;padding:20px;text-align:center;color:#666;font-size:14px;">
      <p>MahWAY — import, export and international shipping</p>
    </div>
  </div>
</body>
</html>`))

type emailData struct {
	form.Request
	PaymentText string
	Priority    bool
	PlacedAt    string
	OrderNumber string
}

func renderEmail(req form.Request, orderNumber string, placedAt time.Time) (string, error) {
	data := emailData{
		Request:     req,
		PlacedAt:    placedAt.Format("2006-01-02 15:04:05"),
		OrderNumber: orderNumber,
	}
	if req.CouponCode == "" {
		data.CouponCode = "none"
	}
	if req.ProductNotes == "" {
		data.ProductNotes = "none"
	}

	switch req.PaymentMethod {
	case "100":
		data.PaymentText = "Full payment, 100% up front"
		data.Priority = true
	default:
		data.PaymentText = "Pay on contact (50% now, 50% on delivery)"
	}

	var b strings.Builder
	if err := emailTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return b.String(), nil
}
