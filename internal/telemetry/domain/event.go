// Package domain defines the client telemetry event.
package domain

import "time"

// Event types emitted by the runtime.
const (
	TypeLogin              = "session.login"
	TypeLogout             = "session.logout"
	TypeSessionExpired     = "session.expired"
	TypeRecordingCompleted = "recording.completed"
	TypeRecordingEmpty     = "recording.empty"
	TypePipelineDone       = "pipeline.done"
	TypePipelineFailed     = "pipeline.failed"
)

// Event is a best-effort telemetry record. It never carries a raw token, only its fingerprint.
type Event struct {
	ID                    string            `json:"id"`
	Type                  string            `json:"event_type"`
	Source                string            `json:"source"`
	CredentialFingerprint string            `json:"credential_fingerprint,omitempty"`
	RunID                 string            `json:"run_id,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}
