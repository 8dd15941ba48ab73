package search

import (
	"context"
	"strings"
	"time"

	"invoicelens/api/internal/store"
)

// FileFinder is the Postgres read the fallback searcher runs when
// Meilisearch is down. *store.PostgresStore satisfies it.
type FileFinder interface {
	SearchInvoiceFiles(ctx context.Context, orgID, query string, limit int) ([]store.InvoiceFile, error)
}

// PgFallback searches uploaded files with the store's ILIKE predicates. It
// trades ranking quality for zero extra infrastructure, which is the right
// trade when the search server is unreachable.
type PgFallback struct {
	finder FileFinder
}

func NewPgFallback(finder FileFinder) *PgFallback {
	return &PgFallback{finder: finder}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFallback) Healthy() bool {
	return true
}

func (p *PgFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	files, err := p.finder.SearchInvoiceFiles(ctx, q.OrgID, q.Text, limit+q.Offset)
	if err != nil {
		return nil, 0, err
	}

	total := len(files)
	if q.Offset > 0 {
		if q.Offset >= len(files) {
			files = nil
		} else {
			files = files[q.Offset:]
		}
	}

	results := make([]Result, 0, len(files))
	for _, file := range files {
		result := Result{
			ID:        file.ID,
			FileName:  file.FileName,
			CreatedAt: file.CreatedAt.UTC().Format(time.RFC3339),
		}
		if file.ClientID != nil {
			result.ClientID = *file.ClientID
		}
		results = append(results, result)
	}
	return results, total, nil
}
