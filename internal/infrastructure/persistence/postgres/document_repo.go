package postgres

import (
	"context"
	"time"

	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// DocumentRepository implements document.Repository for PostgreSQL.
type DocumentRepository struct {
	conn *Connection
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(conn *Connection) *DocumentRepository {
	return &DocumentRepository{conn: conn}
}

// ListDocuments returns the full library.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]document.Document, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT id, title, category, required
		FROM documents
		ORDER BY category, id
	`)
	if err != nil {
		return nil, storeError("ListDocuments", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var (
			d        document.Document
			category string
		)
		if err := rows.Scan(&d.ID, &d.Title, &category, &d.Required); err != nil {
			return nil, storeError("ListDocuments", err)
		}
		d.Category = document.Category(category)
		docs = append(docs, d)
	}
	return docs, storeError("ListDocuments", rows.Err())
}

// UpsertDocument inserts or replaces a library entry.
func (r *DocumentRepository) UpsertDocument(ctx context.Context, d document.Document) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	_, err := r.conn.Exec(ctx, `
		INSERT INTO documents (id, title, category, required)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			required = EXCLUDED.required
	`, d.ID, d.Title, string(d.Category), d.Required)
	return storeError("UpsertDocument", err)
}

// FetchDocumentProgress returns the user's rows joined with category.
func (r *DocumentRepository) FetchDocumentProgress(ctx context.Context, userID string) ([]document.Progress, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT p.user_id, p.document_id, d.category, p.completed_at
		FROM user_document_progress p
		JOIN documents d ON d.id = p.document_id
		WHERE p.user_id = $1
		ORDER BY p.document_id
	`, userID)
	if err != nil {
		return nil, storeError("FetchDocumentProgress", err)
	}
	defer rows.Close()

	var out []document.Progress
	for rows.Next() {
		var (
			p        document.Progress
			category string
		)
		if err := rows.Scan(&p.UserID, &p.DocumentID, &category, &p.CompletedAt); err != nil {
			return nil, storeError("FetchDocumentProgress", err)
		}
		p.Category = document.Category(category)
		out = append(out, p)
	}
	return out, storeError("FetchDocumentProgress", rows.Err())
}

// MarkDocumentCompleted records completion, keeping the first completion
// time on repeats.
func (r *DocumentRepository) MarkDocumentCompleted(ctx context.Context, userID, documentID string, at time.Time) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO user_document_progress (user_id, document_id, completed_at)
		SELECT $1::text, id, $3::timestamptz FROM documents WHERE id = $2
		ON CONFLICT (user_id, document_id) DO UPDATE SET
			completed_at = COALESCE(user_document_progress.completed_at, EXCLUDED.completed_at)
	`, userID, documentID, at)
	if err != nil {
		return storeError("MarkDocumentCompleted", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrDocumentNotFound
	}
	return nil
}
