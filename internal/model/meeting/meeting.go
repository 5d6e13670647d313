package meeting

import "time"

// Meeting is one processed transcription with the agent's summary and the
// tickets it produced.
type Meeting struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"userId"`
	ProjectKey     string    `json:"projectKey"`
	Title          string    `json:"title"`
	Transcription  string    `json:"transcription,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	TicketsCreated []string  `json:"ticketsCreated"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Chunk is a slice of a transcription with its embedding vector, the unit of
// semantic search.
type Chunk struct {
	ID        int64     `json:"id"`
	MeetingID int64     `json:"meetingId"`
	Index     int       `json:"index"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"-"`
}

// SearchResult is one semantic-search hit.
type SearchResult struct {
	MeetingID  int64     `json:"meetingId"`
	Title      string    `json:"title"`
	ProjectKey string    `json:"projectKey"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"createdAt"`
}
