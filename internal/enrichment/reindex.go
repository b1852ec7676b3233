package enrichment

import (
	"context"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/textindex"
)

// ReindexKeywords loads the text of every stored entity into the keyword
// index. It runs at startup because the keyword index lives in memory.
func (p *Pipeline) ReindexKeywords(ctx context.Context, kw *textindex.Indexer) (map[memory.Space]int, error) {
	counts := make(map[memory.Space]int)
	page := memory.Page{Number: 1, Size: memory.MaxPageSize}

	for {
		sessions, _, err := p.deps.Store.ListSessions(ctx, memory.SessionFilter{}, page)
		if err != nil {
			return counts, err
		}
		docs := make([]textindex.Document, 0, len(sessions))
		for _, s := range sessions {
			if text := memory.SessionText(s); text != "" {
				docs = append(docs, textindex.Document{ID: s.ID, Text: text})
			}
		}
		if err := kw.IndexBatch(memory.SpaceSessions, docs); err != nil {
			return counts, err
		}
		counts[memory.SpaceSessions] += len(docs)
		if len(sessions) < page.Size {
			break
		}
		page.Number++
	}

	page.Number = 1
	for {
		events, _, err := p.deps.Store.ListEvents(ctx, memory.EventFilter{}, page)
		if err != nil {
			return counts, err
		}
		docs := make([]textindex.Document, 0, len(events))
		for _, e := range events {
			docs = append(docs, textindex.Document{ID: e.ID, Text: memory.EventText(e)})
		}
		if err := kw.IndexBatch(memory.SpaceEvents, docs); err != nil {
			return counts, err
		}
		counts[memory.SpaceEvents] += len(docs)
		if len(events) < page.Size {
			break
		}
		page.Number++
	}

	page.Number = 1
	for {
		patterns, _, err := p.deps.Store.ListPatterns(ctx, memory.PatternFilter{}, page)
		if err != nil {
			return counts, err
		}
		docs := make([]textindex.Document, 0, len(patterns))
		for _, pat := range patterns {
			docs = append(docs, textindex.Document{ID: pat.ID, Text: memory.PatternText(pat)})
		}
		if err := kw.IndexBatch(memory.SpacePatterns, docs); err != nil {
			return counts, err
		}
		counts[memory.SpacePatterns] += len(docs)
		if len(patterns) < page.Size {
			break
		}
		page.Number++
	}

	p.logger.Info("keyword index loaded",
		"sessions", counts[memory.SpaceSessions],
		"events", counts[memory.SpaceEvents],
		"patterns", counts[memory.SpacePatterns])
	return counts, nil
}
