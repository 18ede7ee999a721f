package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"coach-service/internal/models"
	"coach-service/pkg/events"
)

// NumberSequence hands out per-coach invoice numbers.
type NumberSequence interface {
	NextInvoiceNumber(ctx context.Context, coachID string) (int64, error)
}

// DocumentStore keeps uploaded invoice documents and returns their URL.
type DocumentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// DocumentUpload is one file attached to an invoice.
type DocumentUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

const maxDocumentSize = 10 << 20

type InvoiceService struct {
	repo        InvoiceRepository
	users       UserRepository
	numbers     NumberSequence
	documents   DocumentStore
	broadcaster ChangeBroadcaster
	locks       *entityLocks
}

// NewInvoiceService accepts a nil NumberSequence; invoices are then left
// unnumbered.
func NewInvoiceService(repo InvoiceRepository, users UserRepository, numbers NumberSequence, broadcaster ChangeBroadcaster) *InvoiceService {
	return &InvoiceService{
		repo:        repo,
		users:       users,
		numbers:     numbers,
		broadcaster: broadcaster,
		locks:       newEntityLocks(),
	}
}

// WithDocuments enables invoice document uploads.
func (s *InvoiceService) WithDocuments(store DocumentStore) *InvoiceService {
	s.documents = store
	return s
}

func (s *InvoiceService) ListForUser(ctx context.Context, userID string) ([]*models.Invoice, error) {
	invoices, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (s *InvoiceService) Get(ctx context.Context, actorID, id string) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupErr("invoice", err)
	}
	if !invoice.Involves(actorID) {
		return nil, ErrForbidden
	}
	return invoice, nil
}

// Create is reserved to coaches billing one of their clients.
func (s *InvoiceService) Create(ctx context.Context, actorID string, req *models.CreateInvoiceRequest) (*models.Invoice, error) {
	participants, actor, err := pairParticipants(ctx, s.users, actorID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleCoach {
		return nil, ErrForbidden
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}
	invoice := &models.Invoice{
		Participants: participants,
		Currency:     currency,
		Status:       models.InvoiceDraft,
		LineItems:    req.LineItems,
		DueDate:      req.DueDate,
	}
	if err := invoice.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if s.numbers != nil {
		n, err := s.numbers.NextInvoiceNumber(ctx, participants.CoachID)
		if err != nil {
			// Numbering is cosmetic; the invoice is still valid without it.
			slog.Warn("Failed to allocate invoice number", "coachID", participants.CoachID, "error", err)
		} else {
			invoice.Number = fmt.Sprintf("INV-%06d", n)
		}
	}

	if err := s.repo.Create(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityInvoice, invoice, events.KindCreated)

	slog.Info("Invoice created", "invoiceID", invoice.ID, "number", invoice.Number, "amount", invoice.Amount)
	return invoice, nil
}

// Update lets the coach edit anything and the client only mark a sent
// invoice as paid.
func (s *InvoiceService) Update(ctx context.Context, actorID, id string, req *models.UpdateInvoiceRequest) (*models.Invoice, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	invoice, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}

	if actorID == invoice.ClientID {
		paying := req.Status != nil && *req.Status == models.InvoicePaid &&
			req.LineItems == nil && req.DueDate == nil
		if !paying || invoice.Status != models.InvoiceSent {
			return nil, ErrForbidden
		}
	}
	if invoice.Status == models.InvoiceVoid || invoice.Status == models.InvoicePaid {
		return nil, fmt.Errorf("%w: %s invoices cannot change", ErrInvalidInput, invoice.Status)
	}

	req.Apply(invoice)
	if err := invoice.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityInvoice, invoice, events.KindUpdated)
	return invoice, nil
}

// Delete removes a draft invoice. Issued invoices are voided instead.
func (s *InvoiceService) Delete(ctx context.Context, actorID, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	invoice, err := s.Get(ctx, actorID, id)
	if err != nil {
		return err
	}
	if actorID != invoice.CoachID {
		return ErrForbidden
	}
	if invoice.Status != models.InvoiceDraft {
		return fmt.Errorf("%w: only draft invoices can be deleted", ErrInvalidInput)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityInvoice, invoice, events.KindDeleted)
	return nil
}

// AttachDocument stores a PDF for the invoice and links it. Only the coach
// may attach, and not to a void invoice.
func (s *InvoiceService) AttachDocument(ctx context.Context, actorID, id string, doc DocumentUpload) (*models.Invoice, error) {
	if s.documents == nil {
		return nil, fmt.Errorf("%w: document storage is not configured", ErrUnavailable)
	}
	if doc.ContentType != "application/pdf" {
		return nil, fmt.Errorf("%w: documents must be application/pdf", ErrInvalidInput)
	}
	if doc.Size <= 0 || doc.Size > maxDocumentSize {
		return nil, fmt.Errorf("%w: document must be between 1 byte and %d bytes", ErrInvalidInput, maxDocumentSize)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	invoice, err := s.Get(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if actorID != invoice.CoachID {
		return nil, ErrForbidden
	}
	if invoice.Status == models.InvoiceVoid {
		return nil, fmt.Errorf("%w: void invoices cannot change", ErrInvalidInput)
	}

	key := path.Join("invoices", invoice.CoachID, invoice.ID, path.Base("/"+doc.Filename))
	url, err := s.documents.Put(ctx, key, doc.Body, doc.Size, doc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store invoice document: %w", err)
	}

	invoice.DocumentURL = url
	if err := s.repo.Update(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	s.broadcaster.Broadcast(events.EntityInvoice, invoice, events.KindUpdated)

	slog.Info("Invoice document attached", "invoiceID", invoice.ID, "key", key, "size", doc.Size)
	return invoice, nil
}
