package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shopforge/fulfillment/internal/domain"
	pfirestore "github.com/shopforge/fulfillment/internal/platform/firestore"
	"github.com/shopforge/fulfillment/internal/repositories"
)

const paymentsCollection = "payments"

// activePaymentStatuses are the states in which a payment still owns the
// order's open invoice.
var activePaymentStatuses = []string{
	string(domain.PaymentStatusPending),
	string(domain.PaymentStatusPaid),
	string(domain.PaymentStatusRefundRequested),
}

// PaymentRepository persists payment attempts within Firestore.
type PaymentRepository struct {
	base     *pfirestore.BaseRepository[paymentDocument]
	provider *pfirestore.Provider
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection)
	return &PaymentRepository{base: base, provider: provider}, nil
}

// Insert stores a new payment attempt. The write fails with a conflict when
// the ID is already taken.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.base == nil {
		return errors.New("payment repository not initialised")
	}
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return errors.New("payment repository: payment id is required")
	}
	if strings.TrimSpace(payment.ExternalID) == "" {
		return errors.New("payment repository: external id is required")
	}
	err := r.base.Create(ctx, paymentID, newPaymentDocument(payment))
	return err
}

// FindByID loads a single payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByExternalID resolves a payment by the gateway-facing identifier used
// for idempotency keys and webhook correlation.
func (r *PaymentRepository) FindByExternalID(ctx context.Context, externalID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	eid := strings.TrimSpace(externalID)
	if eid == "" {
		return domain.Payment{}, errors.New("payment repository: external id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("externalId", "==", eid).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("payment with external id %s not found", eid), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// FindActiveByOrder returns the payment currently owning the order's open
// invoice, if any.
func (r *PaymentRepository) FindActiveByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if r == nil || r.base == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return domain.Payment{}, errors.New("payment repository: order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", oid).
			Where("status", "in", activePaymentStatuses).
			Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("no active payment for order %s", oid), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Mutate re-reads the payment inside a transaction and applies fn to the
// fresh copy before writing it back.
func (r *PaymentRepository) Mutate(ctx context.Context, paymentID string, fn func(payment *domain.Payment) error) (domain.Payment, error) {
	if r == nil || r.provider == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return domain.Payment{}, errors.New("payment repository: payment id is required")
	}
	if fn == nil {
		return domain.Payment{}, errors.New("payment repository: mutate function is required")
	}

	var mutated domain.Payment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewError(repositories.ErrorCodeNotFound, fmt.Sprintf("payment %s not found", id), err)
			}
			return err
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", id, err)
		}

		payment := doc.toDomain(id)
		if err := fn(&payment); err != nil {
			return err
		}
		payment.ID = id
		payment.UpdatedAt = time.Now().UTC()

		mutated = payment
		return tx.Set(ref, newPaymentDocument(payment))
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return domain.Payment{}, err
		}
		return domain.Payment{}, pfirestore.WrapError("firestore.payments.mutate", err)
	}
	return mutated, nil
}

type paymentDocument struct {
	OrderID       string    `firestore:"orderId"`
	ExternalID    string    `firestore:"externalId"`
	Method        string    `firestore:"method,omitempty"`
	Status        string    `firestore:"status"`
	Amount        int64     `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	InvoiceID     string    `firestore:"invoiceId,omitempty"`
	InvoiceURL    string    `firestore:"invoiceUrl,omitempty"`
	CallbackToken string    `firestore:"callbackToken"`
	PayerEmail    string    `firestore:"payerEmail,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	doc := paymentDocument{
		OrderID:       strings.TrimSpace(payment.OrderID),
		ExternalID:    strings.TrimSpace(payment.ExternalID),
		Method:        strings.TrimSpace(payment.Method),
		Status:        string(payment.Status),
		Amount:        payment.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(payment.Currency)),
		InvoiceID:     strings.TrimSpace(payment.InvoiceID),
		InvoiceURL:    strings.TrimSpace(payment.InvoiceURL),
		CallbackToken: payment.CallbackToken,
		PayerEmail:    strings.TrimSpace(payment.PayerEmail),
		CreatedAt:     payment.CreatedAt.UTC(),
		UpdatedAt:     payment.UpdatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	return doc
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:            id,
		OrderID:       d.OrderID,
		ExternalID:    d.ExternalID,
		Method:        d.Method,
		Status:        domain.PaymentStatus(d.Status),
		Amount:        d.Amount,
		Currency:      d.Currency,
		InvoiceID:     d.InvoiceID,
		InvoiceURL:    d.InvoiceURL,
		CallbackToken: d.CallbackToken,
		PayerEmail:    d.PayerEmail,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)
