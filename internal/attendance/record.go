package attendance

import "time"

// Record is an accepted attendance submission. Records are never updated.
type Record struct {
	ID                string    `json:"id"`
	StudentName       string    `json:"student_name"`
	Roll              string    `json:"roll"`
	Slot              string    `json:"slot"`
	Timestamp         time.Time `json:"timestamp"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	IP                string    `json:"ip"`
	UserAgent         string    `json:"user_agent"`
}

// Submission is what a student sends, plus the connection metadata the
// transport observed.
type Submission struct {
	Token       string
	PIN         string
	StudentName string
	Roll        string
	SourceIP    string
	UserAgent   string
}

// AuditEvent describes one submission decision.
type AuditEvent struct {
	Slot        string    `json:"slot,omitempty"`
	Outcome     string    `json:"outcome"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	RecordID    string    `json:"record_id,omitempty"`
	At          time.Time `json:"at"`
}
