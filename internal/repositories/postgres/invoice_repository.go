package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"coach-service/internal/models"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	if err := r.db.WithContext(ctx).Create(invoice).Error; err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

func (r *InvoiceRepository) Update(ctx context.Context, invoice *models.Invoice) error {
	return updateAll(r.db.WithContext(ctx), invoice)
}

func (r *InvoiceRepository) Delete(ctx context.Context, id string) error {
	return affected(r.db.WithContext(ctx).Delete(&models.Invoice{}, "id = ?", id))
}

func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListForUser returns the user's invoices, newest first.
func (r *InvoiceRepository) ListForUser(ctx context.Context, userID string) ([]*models.Invoice, error) {
	var invoices []*models.Invoice
	err := r.db.WithContext(ctx).
		Scopes(involving(userID)).
		Order("created_at DESC").
		Find(&invoices).Error
	return invoices, err
}
