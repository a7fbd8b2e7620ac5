package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/index"
)

// Postgres reads published content rows from a table or view that every
// content collaborator (job board, events, forums, directory, library)
// writes into. Expected columns:
//
//	id text, type text, title text, description text, content text,
//	tags text[], url text, category text, location text, company text,
//	language text, created_at timestamptz, published boolean
type Postgres struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

func NewPostgres(db *sql.DB, table string) *Postgres {
	return &Postgres{
		db:     db,
		table:  table,
		logger: slog.Default().With("component", "content-source", "table", table),
	}
}

func (p *Postgres) query() string {
	return fmt.Sprintf(`SELECT id, title, description, content, tags, url,
       category, location, company, language, created_at
FROM %s
WHERE type = $1 AND published
ORDER BY id`, pq.QuoteIdentifier(p.table))
}

// Load returns every published document of type t.
func (p *Postgres) Load(ctx context.Context, t index.ContentType) ([]*index.Document, error) {
	rows, err := p.db.QueryContext(ctx, p.query(), string(t))
	if err != nil {
		return nil, fmt.Errorf("querying %s content: %w", t, err)
	}
	defer rows.Close()

	var docs []*index.Document
	for rows.Next() {
		var (
			id                                    string
			title, description, content, url      sql.NullString
			category, location, company, language sql.NullString
			createdAt                             sql.NullTime
			tags                                  []string
		)
		if err := rows.Scan(&id, &title, &description, &content, pq.Array(&tags), &url,
			&category, &location, &company, &language, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", t, err)
		}
		docs = append(docs, &index.Document{
			ID:          id,
			Type:        t,
			Title:       title.String,
			Description: description.String,
			Content:     content.String,
			Tags:        tags,
			URL:         url.String,
			Metadata: index.Metadata{
				Category:  category.String,
				Location:  location.String,
				Company:   company.String,
				Language:  language.String,
				CreatedAt: createdAt.Time,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", t, err)
	}
	p.logger.Debug("content loaded", "type", t, "documents", len(docs))
	return docs, nil
}
