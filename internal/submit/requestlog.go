package submit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEntry mirrors the shape of the per-day request log.
type LogEntry struct {
	Timestamp     string `json:"timestamp"`
	OrderNumber   string `json:"order_number"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	ProductLink   string `json:"product_link"`
	PaymentMethod string `json:"payment_method"`
	Status        string `json:"status"`
}

// RequestLog appends accepted requests to one JSONL file per day.
type RequestLog struct {
	Dir string

	mu sync.Mutex
}

func (l *RequestLog) Append(e LogEntry, day time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("request log dir: %w", err)
	}

	path := filepath.Join(l.Dir, "requests-"+day.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open request log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(e); err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}
