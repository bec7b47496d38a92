// Package extract turns raw document bytes into ordered per-page text.
package extract

import "context"

// Page holds the text extracted from a single page. Numbers are 1-based.
type Page struct {
	Number int
	Text   string
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]Page, error)
}
