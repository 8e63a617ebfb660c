package retrieval

import (
	"context"
	"fmt"
	"strings"

	"fault-matcher/catalog"
	"fault-matcher/match"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// Query-time field boosts for the lexical channel.
var lexicalFields = []struct {
	name  string
	boost float64
}{
	{"text", 3.0},
	{"topic", 2.0},
	{"discussion", 1.5},
	{"system", 1.5},
	{"part", 1.5},
	{"tags", 1.0},
	{"faultcode", 0.8},
}

type lexicalDoc struct {
	Text       string `json:"text"`
	Topic      string `json:"topic"`
	Discussion string `json:"discussion"`
	System     string `json:"system"`
	Part       string `json:"part"`
	Tags       string `json:"tags"`
	FaultCode  string `json:"faultcode"`
}

// BleveIndex is an in-memory BM25 index over the catalog. Text is analyzed
// with CJK bigrams so Chinese symptom descriptions match without a segmenter.
type BleveIndex struct {
	index   bleve.Index
	records map[string]catalog.Record
}

func NewBleveIndex(records []catalog.Record, logger *zap.Logger) (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	mapping.DefaultAnalyzer = cjk.AnalyzerName

	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create lexical index: %w", err)
	}

	idx := &BleveIndex{index: index, records: make(map[string]catalog.Record, len(records))}
	batch := index.NewBatch()
	for _, rec := range records {
		if _, dup := idx.records[rec.ID]; dup {
			continue
		}
		idx.records[rec.ID] = rec
		doc := lexicalDoc{
			Text:       rec.Text,
			Topic:      rec.Topic,
			Discussion: rec.Discussion,
			System:     rec.System,
			Part:       rec.Part,
			Tags:       strings.Join(rec.Tags, " "),
			FaultCode:  rec.FaultCode,
		}
		if err := batch.Index(rec.ID, doc); err != nil {
			return nil, fmt.Errorf("failed to index record %s: %w", rec.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to commit lexical index: %w", err)
	}

	logger.Info("Lexical index built", zap.Int("documents", len(idx.records)))
	return idx, nil
}

// Query returns up to k records ranked by boosted BM25 score.
func (b *BleveIndex) Query(ctx context.Context, text string, k int) ([]match.Hit, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	clauses := make([]query.Query, 0, len(lexicalFields))
	for _, f := range lexicalFields {
		q := bleve.NewMatchQuery(text)
		q.SetField(f.name)
		q.SetBoost(f.boost)
		clauses = append(clauses, q)
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(clauses...), k, 0, false)

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical query failed: %w", err)
	}

	hits := make([]match.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		rec, ok := b.records[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, match.Hit{Record: rec, Lexical: match.Float(h.Score)})
	}
	return hits, nil
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}
