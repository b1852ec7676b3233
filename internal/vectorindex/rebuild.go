package vectorindex

import (
	"context"
	"log/slog"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// EmbeddingSource streams stored vectors. storage.Storage satisfies it.
type EmbeddingSource interface {
	ListEmbeddings(ctx context.Context, space memory.Space, fn func(memory.EmbeddingRecord) error) error
}

// Rebuild loads every stored vector produced by model into idx. Vectors of
// other models are skipped; the backfill pass re-embeds those entities.
// It returns the number of vectors loaded per space.
func Rebuild(ctx context.Context, idx Index, src EmbeddingSource, model string, logger *slog.Logger) (map[memory.Space]int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loaded := make(map[memory.Space]int)
	for _, space := range memory.Spaces {
		skipped := 0
		err := src.ListEmbeddings(ctx, space, func(rec memory.EmbeddingRecord) error {
			if rec.Model != model {
				skipped++
				return nil
			}
			if err := idx.Upsert(ctx, space, rec.EntityID, rec.Vector, rec.Model); err != nil {
				return err
			}
			loaded[space]++
			return nil
		})
		if err != nil {
			return loaded, err
		}
		logger.Info("vector index loaded", "space", space, "vectors", loaded[space], "stale", skipped)
	}
	return loaded, nil
}
