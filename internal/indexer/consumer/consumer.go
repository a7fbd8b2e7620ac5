// Package consumer applies content-change events published by the content
// collaborators to the search index.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/kafka"
)

// Action is the kind of content change.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// ContentEvent is the payload on the content-changes topic. Document is
// required for upserts; deletes need only Type and ID.
type ContentEvent struct {
	Action   Action            `json:"action"`
	Type     index.ContentType `json:"type"`
	ID       string            `json:"id"`
	Document *index.Document   `json:"document,omitempty"`
}

// Indexer is the subset of the engine the consumer drives.
type Indexer interface {
	IndexDocument(doc *index.Document) error
	RemoveDocument(t index.ContentType, id string) error
}

// HandleMessage returns a Kafka MessageHandler that applies each event to
// idx. Malformed events and deletes of unknown documents are logged and
// acknowledged; they would fail the same way on every retry.
func HandleMessage(idx Indexer) kafka.MessageHandler {
	logger := slog.Default().With("component", "content-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ContentEvent](value)
		if err != nil {
			logger.Error("failed to decode content event", "error", err, "key", string(key))
			return nil
		}
		err = Apply(idx, event)
		switch {
		case err == nil:
			logger.Debug("content event applied", "action", event.Action, "type", event.Type, "id", event.ID)
			return nil
		case errors.Is(err, apperrors.ErrDocumentNotFound):
			logger.Warn("delete for unknown document ignored", "type", event.Type, "id", event.ID)
			return nil
		case errors.Is(err, apperrors.ErrInvalidInput):
			logger.Error("invalid content event skipped", "key", string(key), "error", err)
			return nil
		default:
			return err
		}
	}
}

// Apply performs a single content event against idx.
func Apply(idx Indexer, event ContentEvent) error {
	switch event.Action {
	case ActionUpsert:
		if event.Document == nil {
			return fmt.Errorf("upsert %s/%s without document: %w", event.Type, event.ID, apperrors.ErrInvalidInput)
		}
		doc := *event.Document
		if doc.Type == "" {
			doc.Type = event.Type
		}
		if doc.ID == "" {
			doc.ID = event.ID
		}
		return idx.IndexDocument(&doc)
	case ActionDelete:
		return idx.RemoveDocument(event.Type, event.ID)
	default:
		return fmt.Errorf("unknown action %q: %w", event.Action, apperrors.ErrInvalidInput)
	}
}
