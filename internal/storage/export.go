package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownRelation is returned by Dump for names outside Relations.
var ErrUnknownRelation = errors.New("unknown relation")

// exportQueries select each relation with its public column names, in the
// relation's natural order.
var exportQueries = map[string]string{
	RelColumnCards: `SELECT tbl AS "table", col AS "column", dtype, row_count, null_pct, distinct_count AS "distinct",
		samples, hints, card_text FROM column_cards ORDER BY ordinal`,
	RelGlossaryTerms:      `SELECT term AS TERM, definition AS DEFINITION, synonyms AS SYNONYMS FROM glossary_terms ORDER BY ordinal`,
	RelFeatureSpace:       `SELECT ngram, idf FROM feature_space ORDER BY ordinal`,
	RelCardEmbeddings:     `SELECT tbl AS "table", col AS "column", vector FROM card_embeddings ORDER BY ordinal`,
	RelGlossaryEmbeddings: `SELECT term, vector FROM glossary_embeddings ORDER BY ordinal`,
	RelColumnMatches:      `SELECT tbl AS "table", col AS "column", rank, term, score FROM column_matches ORDER BY ordinal`,
	RelLLMPredictions:     `SELECT tbl AS "table", col AS "column", llm_term, llm_confidence, llm_reason FROM llm_predictions ORDER BY ordinal`,
	RelGoldLabels:         `SELECT tbl AS "table", col AS "column", correct_term FROM gold_labels ORDER BY ordinal`,
	RelHumanReview:        `SELECT id, tbl AS "table", col AS "column", approved_term, created_at FROM human_review ORDER BY seq`,
	RelRuns:               `SELECT id, stage, status, row_count AS "rows", detail, started_at, COALESCE(finished_at, '') AS finished_at FROM runs ORDER BY started_at`,
}

// Dump returns a relation as a header and string rows, ready for CSV export.
// Vector blobs are rendered as JSON arrays.
func (s *Store) Dump(relation string) ([]string, [][]string, error) {
	query, ok := exportQueries[relation]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownRelation, relation)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, nil, fmt.Errorf("querying %s: %w", relation, err)
	}
	defer rows.Close()

	header, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		vals := make([]any, len(header))
		ptrs := make([]any, len(header))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scanning %s: %w", relation, err)
		}
		rec := make([]string, len(header))
		for i, v := range vals {
			rec[i], err = renderCell(header[i], v)
			if err != nil {
				return nil, nil, fmt.Errorf("rendering %s.%s: %w", relation, header[i], err)
			}
		}
		out = append(out, rec)
	}
	return header, out, rows.Err()
}

func renderCell(column string, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case []byte:
		if column == "vector" {
			f, err := decodeFloat64s(x)
			if err != nil {
				return "", err
			}
			b, err := json.Marshal(f)
			return string(b), err
		}
		return string(x), nil
	case string:
		return x, nil
	default:
		return fmt.Sprint(x), nil
	}
}
