// Package document models the compliance document library and a user's
// completion of it.
package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// Category is one of the fixed document categories.
type Category string

const (
	CategoryCompanySetup    Category = "company-setup"
	CategoryTaxVAT          Category = "tax-vat"
	CategoryEmployment      Category = "employment"
	CategoryLegalCompliance Category = "legal-compliance"
	CategoryFinance         Category = "finance"
	CategoryDataProtection  Category = "data-protection"
)

// AllCategories returns the categories in display order.
func AllCategories() []Category {
	return []Category{
		CategoryCompanySetup,
		CategoryTaxVAT,
		CategoryEmployment,
		CategoryLegalCompliance,
		CategoryFinance,
		CategoryDataProtection,
	}
}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	for _, k := range AllCategories() {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory normalizes and validates a category string.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", shared.WrapError("document", "ParseCategory", shared.ErrInvalidInput,
			fmt.Sprintf("unknown category %q", s), shared.ErrInvalidCategory)
	}
	return c, nil
}

// Document is a template or checklist item in the library.
type Document struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Category Category `json:"category" yaml:"category"`
	Required bool     `json:"required" yaml:"required"`
}

// Validate checks document invariants.
func (d Document) Validate() error {
	if !shared.IsValidSlug(d.ID) {
		return shared.NewDomainError("document", "Validate", shared.ErrInvalidID,
			fmt.Sprintf("invalid document id %q", d.ID))
	}
	if !d.Category.IsValid() {
		return shared.NewDomainError("document", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("document %s has unknown category %q", d.ID, d.Category))
	}
	return nil
}

// Progress is a user's row for one document, joined with its category.
type Progress struct {
	UserID      string     `json:"user_id"`
	DocumentID  string     `json:"document_id"`
	Category    Category   `json:"category"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the document has a completion timestamp.
func (p Progress) IsCompleted() bool {
	return p.CompletedAt != nil && !p.CompletedAt.IsZero()
}

// Repository reads the library and a user's document progress.
type Repository interface {
	// ListDocuments returns the full library.
	ListDocuments(ctx context.Context) ([]Document, error)

	// UpsertDocument inserts or replaces a library entry.
	UpsertDocument(ctx context.Context, d Document) error

	// FetchDocumentProgress returns the user's rows joined with category.
	FetchDocumentProgress(ctx context.Context, userID string) ([]Progress, error)

	// MarkDocumentCompleted records completion. Returns
	// shared.ErrDocumentNotFound for unknown documents.
	MarkDocumentCompleted(ctx context.Context, userID, documentID string, at time.Time) error
}
