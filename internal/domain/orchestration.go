package domain

import (
	"errors"
	"fmt"
	"time"
)

// OrchestrationResult is the multi-part answer computed by the backend.
// Each part is optional; parts are delivered text, image, audio.
type OrchestrationResult struct {
	Text     string `json:"text_response,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"voice_url,omitempty"`
}

// Empty reports whether the result carries no deliverable part.
func (r OrchestrationResult) Empty() bool {
	return r.Text == "" && r.ImageURL == "" && r.AudioURL == ""
}

// ErrBackendTimeout is returned when the backend does not answer within the
// request timeout. It is the only failure that starts a retry chain.
var ErrBackendTimeout = errors.New("backend timed out")

// BackendError is returned when the backend answers with a non-success status.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// RetryChain describes one running background re-attempt of a timed-out query.
type RetryChain struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Query       string    `json:"query"`
	Attempts    int       `json:"attempts"`
	StartedAt   time.Time `json:"started_at"`
	NextAttempt time.Time `json:"next_attempt"`
}
