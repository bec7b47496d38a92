package qa

import "github.com/fabfab/pdf-qa/store"

type IngestResult struct {
	DocumentID string
	PageCount  int
	Status     store.Status
}

// Source cites one retrieved passage. Sources keep retrieval order, most
// relevant first.
type Source struct {
	Page  int
	Text  string
	Score float64
}

type ChatResponse struct {
	Answer  string
	Sources []Source
}
