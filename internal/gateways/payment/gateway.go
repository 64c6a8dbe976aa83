// Package payment abstracts the payment provider behind an invoice-oriented
// gateway so services never depend on provider SDK types directly.
package payment

import (
	"context"
	"time"
)

// InvoiceStatus enumerates the normalised invoice states shared across providers.
type InvoiceStatus string

const (
	// InvoiceStatusPending indicates the invoice awaits customer payment.
	InvoiceStatusPending InvoiceStatus = "pending"
	// InvoiceStatusPaid indicates the provider reports the invoice as settled.
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusExpired indicates the invoice lapsed before payment.
	InvoiceStatusExpired InvoiceStatus = "expired"
	// InvoiceStatusFailed indicates the provider reports an unrecoverable failure.
	InvoiceStatusFailed InvoiceStatus = "failed"
)

// RefundStatus enumerates normalised refund outcomes.
type RefundStatus string

const (
	// RefundStatusPending indicates the refund was accepted and is processing.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSucceeded indicates the provider completed the refund.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed indicates the provider rejected the refund.
	RefundStatusFailed RefundStatus = "failed"
)

// InvoiceItem describes a single line included on an invoice.
type InvoiceItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
}

// CreateInvoiceRequest captures the payload required to open an invoice with
// the provider. ExternalID doubles as the provider idempotency key so a retried
// call can never open a second invoice.
type CreateInvoiceRequest struct {
	ExternalID  string
	Amount      int64
	Currency    string
	Description string
	CustomerID  string
	SuccessURL  string
	CancelURL   string
	Items       []InvoiceItem
	Metadata    map[string]string
}

// Invoice represents the provider invoice returned to the client.
type Invoice struct {
	ID        string
	IntentID  string
	URL       string
	Amount    int64
	Currency  string
	Status    InvoiceStatus
	ExpiresAt time.Time
}

// RefundRequest defines a provider refund attempt. ExternalID is reused as the
// provider idempotency key.
type RefundRequest struct {
	IntentID   string
	ExternalID string
	Amount     int64
	Reason     string
	Metadata   map[string]string
}

// Refund normalises the provider refund response.
type Refund struct {
	ID     string
	Status RefundStatus
	Amount int64
}

// Gateway defines the contract payment provider adapters implement.
type Gateway interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	LookupInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	ExpireInvoice(ctx context.Context, invoiceID string) error
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
}
