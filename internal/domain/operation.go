package domain

import (
	"encoding/json"
	"time"
)

// OperationType represents the kind of queued mutation.
type OperationType string

// Operation types.
const (
	OperationCreateNote         OperationType = "create_note"
	OperationUploadContent      OperationType = "upload_content"
	OperationDeleteContentByTag OperationType = "delete_content_by_tag"
	OperationCreateFolder       OperationType = "create_folder"
	OperationRenameFolder       OperationType = "rename_folder"
	OperationDeleteFolder       OperationType = "delete_folder"
	OperationUploadImage        OperationType = "upload_image"
	OperationUploadAudio        OperationType = "upload_audio"
)

// IsValid reports whether the operation type is a known kind.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationCreateNote, OperationUploadContent, OperationDeleteContentByTag,
		OperationCreateFolder, OperationRenameFolder, OperationDeleteFolder,
		OperationUploadImage, OperationUploadAudio:
		return true
	}
	return false
}

// OperationStatus represents the current status of a queued operation.
type OperationStatus string

// Operation statuses.
const (
	OperationStatusPending    OperationStatus = "pending"
	OperationStatusProcessing OperationStatus = "processing"
	OperationStatusCompleted  OperationStatus = "completed"
	OperationStatusFailed     OperationStatus = "failed"
)

// ErrorKind classifies the failure recorded on an operation.
type ErrorKind string

// Error kinds.
const (
	ErrorKindNetwork     ErrorKind = "network"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindServerError ErrorKind = "server_error"
	ErrorKindAuthExpired ErrorKind = "auth_expired"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindUnknown     ErrorKind = "unknown"
)

// Operation is a durable unit of outbound work: one local mutation that must
// eventually be applied to the remote note service.
//
// Payload is opaque to the queue. Each operation type serializes its own
// parameters independently of the queue schema.
type Operation struct {
	ID           string          `json:"id"`
	Type         OperationType   `json:"type"`
	TargetID     string          `json:"target_id"`
	Payload      json.RawMessage `json:"payload"`
	Status       OperationStatus `json:"status"`
	RetryCount   int             `json:"retry_count"`
	NextRetryAt  *time.Time      `json:"next_retry_at"`
	Abandoned    bool            `json:"abandoned"`
	ErrorKind    *ErrorKind      `json:"error_kind"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CanProcess reports whether the operation is eligible for processing at all.
// Completed operations are terminal and processing ones are already in flight.
func (o *Operation) CanProcess() bool {
	return o.Status == OperationStatusPending || o.Status == OperationStatusFailed
}

// IsReadyForRetry reports whether a failed operation's retry gate has elapsed.
// A pending operation has never failed and is therefore never "ready for
// retry"; it is eligible through CanProcess instead. An abandoned operation is
// parked until explicit user action and is never ready.
func (o *Operation) IsReadyForRetry(now time.Time) bool {
	if o.Status != OperationStatusFailed || o.Abandoned {
		return false
	}
	return o.NextRetryAt == nil || !o.NextRetryAt.After(now)
}
