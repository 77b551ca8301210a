package index

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/mycok/zhsearch/pagestore/page"
)

// previewRunes is the length of DocumentMetadata.ContentPreview before the
// ellipsis.
const previewRunes = 50

// DocumentMetadata is the row of the metadata table shown next to a search
// hit.
type DocumentMetadata struct {
	DocID          int    `json:"doc_id"`
	URL            string `json:"url,omitempty"`
	Title          string `json:"title"`
	Source         string `json:"source"`
	PublishTime    string `json:"publish_time"`
	ContentPreview string `json:"content_preview"`
}

// MetadataFromPages builds the metadata table for a matrix whose i-th row
// was computed from pages[i]. Doc ids follow the same rule as Build.
func MetadataFromPages(pages []page.Page, docIDs []int) []DocumentMetadata {
	table := make([]DocumentMetadata, len(pages))
	for i, p := range pages {
		docID := i
		if docIDs != nil && i < len(docIDs) {
			docID = docIDs[i]
		}

		table[i] = DocumentMetadata{
			DocID:          docID,
			URL:            p.URL,
			Title:          p.Title,
			Source:         p.Source,
			PublishTime:    p.PublishTime,
			ContentPreview: preview(p.Content),
		}
	}

	return table
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}

	return string(runes[:previewRunes]) + "..."
}

// LoadPages reads every page of store in the store's iteration order, which
// is the row order expected by MetadataFromPages.
func LoadPages(ctx context.Context, store page.Store) (pages []page.Page, err error) {
	it, err := store.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer func() {
		if cErr := it.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}()

	for it.Next() {
		pages = append(pages, *it.Page())
	}
	if err = it.Error(); err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	return pages, nil
}
