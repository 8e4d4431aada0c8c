package videos

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusUploaded     Status = "UPLOADED"
	StatusProcessingAI Status = "PROCESSING_AI"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
)

// Rank is the ordinal used by conditional writes. A write never lowers the
// stored rank. FAILED outranks everything so a provider failure is terminal.
func (s Status) Rank() int {
	switch s {
	case StatusUploaded:
		return 1
	case StatusProcessingAI:
		return 2
	case StatusCompleted:
		return 3
	case StatusFailed:
		return 4
	default:
		return 0
	}
}

func (s Status) Valid() bool {
	return s.Rank() > 0
}

type Video struct {
	ID                 string    `json:"id"`
	UploadSessionID    string    `json:"upload_session_id,omitempty"`
	AssetID            string    `json:"asset_id"`
	PlaybackID         string    `json:"playback_id,omitempty"`
	Status             Status    `json:"status"`
	TranscriptTrackID  string    `json:"transcript_track_id,omitempty"`
	Transcript         string    `json:"transcript,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	Description        string    `json:"description,omitempty"`
	EnrichmentAttempts int       `json:"enrichment_attempts"`
	LastError          string    `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AssetObservation is one sighting of a provider asset, from a notification
// or a poll. Empty fields carry no information and never clear stored ones.
type AssetObservation struct {
	AssetID         string
	UploadSessionID string
	PlaybackID      string
	Status          Status
}

// Enrichment is the output of a completed enrichment run.
type Enrichment struct {
	Transcript  string
	Summary     string
	Description string
}

func NewID() string {
	return uuid.NewString()
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
