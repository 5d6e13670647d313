package embedding

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/actionsync/backend/internal/model/meeting"
	"github.com/actionsync/backend/internal/store"
)

// Embedder is the slice of Client the service depends on; tests substitute a
// deterministic fake.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Service stores meeting transcripts as embedded chunks and answers
// similarity queries against them. When no embedder is configured it
// degrades to substring search.
type Service struct {
	store    *store.Store
	embedder Embedder
}

// NewService builds a service; embedder may be nil.
func NewService(st *store.Store, embedder Embedder) *Service {
	return &Service{store: st, embedder: embedder}
}

// Enabled reports whether semantic indexing is available.
func (s *Service) Enabled() bool {
	return s.embedder != nil
}

// IndexMeeting chunks the transcription, embeds the chunks, and stores them
// under the given meeting. A failed embedding call is logged and swallowed;
// the meeting itself is already persisted and search falls back to text.
func (s *Service) IndexMeeting(ctx context.Context, meetingID int64, transcription string) {
	if s.embedder == nil {
		return
	}

	texts := ChunkText(transcription)
	if len(texts) == 0 {
		return
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		log.Printf("[embedding] failed to embed meeting %d: %v", meetingID, err)
		return
	}

	chunks := make([]meeting.Chunk, 0, len(texts))
	for i, text := range texts {
		if embeddings[i] == nil {
			continue
		}
		chunks = append(chunks, meeting.Chunk{
			MeetingID: meetingID,
			Index:     i,
			Content:   text,
			Embedding: embeddings[i],
		})
	}
	if err := s.store.SaveChunks(ctx, meetingID, chunks); err != nil {
		log.Printf("[embedding] failed to store chunks for meeting %d: %v", meetingID, err)
		return
	}
	log.Printf("[embedding] indexed meeting %d with %d chunks", meetingID, len(chunks))
}

// Search returns the user's chunks most similar to the query, best first.
// projectKey filters to one project when non-empty.
func (s *Service) Search(ctx context.Context, userID, projectKey, query string, limit int) ([]meeting.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	chunks, meetings, err := s.store.ChunksForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var queryEmbedding []float64
	if s.embedder != nil {
		queryEmbedding, err = s.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("[embedding] query embedding failed, using text search: %v", err)
			queryEmbedding = nil
		}
	}

	var results []meeting.SearchResult
	for _, chunk := range chunks {
		m := meetings[chunk.MeetingID]
		if projectKey != "" && m.ProjectKey != projectKey {
			continue
		}

		var score float64
		if queryEmbedding != nil {
			score = CosineSimilarity(queryEmbedding, chunk.Embedding)
		} else if strings.Contains(strings.ToLower(chunk.Content), strings.ToLower(query)) {
			score = 0.5
		} else {
			continue
		}

		results = append(results, meeting.SearchResult{
			MeetingID:  chunk.MeetingID,
			Title:      m.Title,
			ProjectKey: m.ProjectKey,
			Content:    chunk.Content,
			Score:      score,
			CreatedAt:  m.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CosineSimilarity is the dot product of the normalized vectors; 0 for
// mismatched or zero-length input.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
