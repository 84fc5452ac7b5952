package milvus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/rerank"
	"github.com/tunogya/fractal/pkg/window"
)

const embeddingField = "embedding"

// batchSize bounds the rows sent per upsert call
const batchSize = 1000

// CollectionName returns the collection holding windows of length w.
// The vector dimension equals w, so each window length gets its own collection.
func CollectionName(w int) string {
	return fmt.Sprintf("fractal_windows_w%d", w)
}

// EnsureCollection creates, indexes and loads the collection for window length w
func (c *Client) EnsureCollection(ctx context.Context, w int) error {
	name := CollectionName(w)
	exists, err := c.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: name,
			Description:    fmt.Sprintf("fractal window vectors of length %d", w),
			Fields: []*entity.Field{
				{
					Name:       "window_id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{
						"max_length": "64",
					},
				},
				{
					Name:     embeddingField,
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": strconv.Itoa(w),
					},
				},
				{
					Name:     "symbol",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "32",
					},
				},
				{
					Name:     "timeframe",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "8",
					},
				},
				{
					Name:     "t_end",
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:     "window_len",
					DataType: entity.FieldTypeInt32,
				},
				{
					Name:     "representation",
					DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{
						"max_length": "32",
					},
				},
			},
		}

		if err := c.conn.CreateCollection(ctx, schema, c.shards); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		if err := c.createIndex(ctx, name); err != nil {
			return err
		}
	}

	return c.LoadCollection(ctx, name)
}

// WindowData holds one window vector stored in Milvus
type WindowData struct {
	WindowID       string
	Embedding      []float32
	Symbol         string
	Timeframe      string
	TEnd           time.Time
	WindowLen      int32
	Representation string
}

// WindowsFromIndex converts index entries of one (mode, w) column into rows.
// IDs use horizon 0 since a stored vector is independent of any forward horizon.
func WindowsFromIndex(symbol, timeframe string, mode model.Representation, w int, entries []window.Entry) []*WindowData {
	rows := make([]*WindowData, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &WindowData{
			WindowID:       model.GenerateWindowID(symbol, timeframe, e.TEnd, w, 0, model.FeatureVersion),
			Embedding:      e.Vector.ToFloat32(),
			Symbol:         symbol,
			Timeframe:      timeframe,
			TEnd:           e.TEnd,
			WindowLen:      int32(w),
			Representation: string(mode),
		})
	}
	return rows
}

// Sync mirrors every cached vector of (mode, w) into the window-length collection
func (c *Client) Sync(ctx context.Context, symbol, timeframe string, ix *window.Index, mode model.Representation, w int) (int, error) {
	rows := WindowsFromIndex(symbol, timeframe, mode, w, ix.Entries(mode, w))
	if len(rows) == 0 {
		return 0, nil
	}
	if err := c.EnsureCollection(ctx, w); err != nil {
		return 0, err
	}

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		if err := c.UpsertBatch(ctx, CollectionName(w), rows[start:end]); err != nil {
			return start, err
		}
	}
	if err := c.Flush(ctx, CollectionName(w)); err != nil {
		return len(rows), fmt.Errorf("failed to flush: %w", err)
	}
	return len(rows), nil
}

// UpsertBatch writes window vectors, replacing rows with the same window_id
func (c *Client) UpsertBatch(ctx context.Context, collectionName string, dataList []*WindowData) error {
	if len(dataList) == 0 {
		return nil
	}

	windowIDs := make([]string, len(dataList))
	embeddings := make([][]float32, len(dataList))
	symbols := make([]string, len(dataList))
	timeframes := make([]string, len(dataList))
	tEnds := make([]int64, len(dataList))
	windowLens := make([]int32, len(dataList))
	reprs := make([]string, len(dataList))

	for i, d := range dataList {
		windowIDs[i] = d.WindowID
		embeddings[i] = d.Embedding
		symbols[i] = d.Symbol
		timeframes[i] = d.Timeframe
		tEnds[i] = d.TEnd.Unix()
		windowLens[i] = d.WindowLen
		reprs[i] = d.Representation
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("window_id", windowIDs),
		entity.NewColumnFloatVector(embeddingField, len(embeddings[0]), embeddings),
		entity.NewColumnVarChar("symbol", symbols),
		entity.NewColumnVarChar("timeframe", timeframes),
		entity.NewColumnInt64("t_end", tEnds),
		entity.NewColumnInt32("window_len", windowLens),
		entity.NewColumnVarChar("representation", reprs),
	}

	if _, err := c.conn.Upsert(ctx, collectionName, "", columns...); err != nil {
		return fmt.Errorf("failed to upsert: %w", err)
	}
	return nil
}

// SearchResult represents a single search result
type SearchResult struct {
	WindowID       string
	Score          float32
	Symbol         string
	Timeframe      string
	TEnd           time.Time
	Representation string
}

// SeriesFilter restricts a search to one series and representation, and to windows
// ending at or before lastEnd so that no result overlaps the query.
func SeriesFilter(symbol, timeframe string, mode model.Representation, lastEnd time.Time) string {
	return fmt.Sprintf(`symbol == %q && timeframe == %q && representation == %q && t_end <= %d`,
		symbol, timeframe, string(mode), lastEnd.Unix())
}

// Search performs a TopK cosine similarity search in the collection of window length len(embedding)
func (c *Client) Search(ctx context.Context, embedding []float32, filter string, topK int) ([]SearchResult, error) {
	vectors := []entity.Vector{entity.FloatVector(embedding)}

	sp, err := entity.NewIndexIvfFlatSearchParam(16) // nprobe
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	outputFields := []string{"window_id", "symbol", "timeframe", "t_end", "representation"}

	results, err := c.conn.Search(
		ctx,
		CollectionName(len(embedding)),
		nil,
		filter,
		outputFields,
		vectors,
		embeddingField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	searchResults := make([]SearchResult, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		result := SearchResult{
			Score: results[0].Scores[i],
		}

		for _, field := range results[0].Fields {
			switch col := field.(type) {
			case *entity.ColumnVarChar:
				val, _ := col.ValueByIdx(i)
				switch col.Name() {
				case "window_id":
					result.WindowID = val
				case "symbol":
					result.Symbol = val
				case "timeframe":
					result.Timeframe = val
				case "representation":
					result.Representation = val
				}
			case *entity.ColumnInt64:
				if col.Name() == "t_end" {
					val, _ := col.ValueByIdx(i)
					result.TEnd = time.Unix(val, 0).UTC()
				}
			}
		}

		searchResults = append(searchResults, result)
	}

	return searchResults, nil
}

// Candidates turns search hits into rerank candidates keyed by window ID
func Candidates(results []SearchResult) []rerank.Candidate {
	out := make([]rerank.Candidate, len(results))
	for i, r := range results {
		out[i] = rerank.Candidate{
			Key:        r.WindowID,
			Similarity: float64(r.Score),
			TEnd:       r.TEnd,
		}
	}
	return out
}
