package command

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

// MarkDocumentCompleteCommand records that a user finished a library document.
type MarkDocumentCompleteCommand struct {
	UserID     string
	DocumentID string

	// At - completion time. Zero means now.
	At time.Time
}

// Validate checks the command parameters.
func (c *MarkDocumentCompleteCommand) Validate() error {
	c.UserID = strings.TrimSpace(c.UserID)
	c.DocumentID = strings.TrimSpace(c.DocumentID)
	if c.UserID == "" {
		return shared.ErrMissingUserID
	}
	if !shared.IsValidSlug(c.DocumentID) {
		return shared.NewDomainError("document", "Validate", shared.ErrInvalidID, "invalid document ID")
	}
	return nil
}

// MarkDocumentCompleteResult describes the written row.
type MarkDocumentCompleteResult struct {
	UserID      string            `json:"user_id"`
	DocumentID  string            `json:"document_id"`
	Category    document.Category `json:"category"`
	CompletedAt time.Time         `json:"completed_at"`
}

// MarkDocumentCompleteHandler handles MarkDocumentCompleteCommand.
type MarkDocumentCompleteHandler struct {
	documents document.Repository
	publisher shared.EventPublisher
	now       timeutil.Clock
	log       *logger.Logger
}

// NewMarkDocumentCompleteHandler creates a new handler. publisher may be nil.
func NewMarkDocumentCompleteHandler(documents document.Repository, publisher shared.EventPublisher, log *logger.Logger) *MarkDocumentCompleteHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &MarkDocumentCompleteHandler{
		documents: documents,
		publisher: publisher,
		now:       timeutil.SystemClock,
		log:       log.With(logger.Component("command.documents")),
	}
}

// WithClock overrides the clock used when a command carries no time.
func (h *MarkDocumentCompleteHandler) WithClock(c timeutil.Clock) *MarkDocumentCompleteHandler {
	h.now = c
	return h
}

// Handle executes the command. Unknown documents are rejected with
// shared.ErrDocumentNotFound before anything is written.
func (h *MarkDocumentCompleteHandler) Handle(ctx context.Context, cmd MarkDocumentCompleteCommand) (*MarkDocumentCompleteResult, error) {
	ctx, span := tracer.Start(ctx, "command.MarkDocumentComplete")
	defer span.End()

	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("command", "MarkDocumentComplete", shared.ErrValidation, err.Error(), err)
	}
	span.SetAttributes(attribute.String("user.id", cmd.UserID), attribute.String("document.id", cmd.DocumentID))

	docs, err := h.documents.ListDocuments(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, shared.WrapError("command", "MarkDocumentComplete", shared.ErrExternalService, "list documents", err)
	}
	var doc *document.Document
	for i := range docs {
		if docs[i].ID == cmd.DocumentID {
			doc = &docs[i]
			break
		}
	}
	if doc == nil {
		return nil, shared.ErrDocumentNotFound
	}

	at := cmd.At
	if at.IsZero() {
		at = h.now()
	}
	at = at.UTC()

	if err := h.documents.MarkDocumentCompleted(ctx, cmd.UserID, doc.ID, at); err != nil {
		span.RecordError(err)
		if shared.IsNotFound(err) {
			return nil, err
		}
		return nil, shared.WrapError("command", "MarkDocumentComplete", shared.ErrExternalService, "write document completion", err)
	}

	h.log.Info("document completed", logger.UserID(cmd.UserID), logger.DocumentID(doc.ID), logger.String("category", string(doc.Category)))
	if h.publisher != nil {
		if err := h.publisher.Publish(shared.NewDocumentCompletedEvent(cmd.UserID, doc.ID, string(doc.Category))); err != nil {
			h.log.Warn("publish event failed", logger.Err(err))
		}
	}

	return &MarkDocumentCompleteResult{
		UserID:      cmd.UserID,
		DocumentID:  doc.ID,
		Category:    doc.Category,
		CompletedAt: at,
	}, nil
}
