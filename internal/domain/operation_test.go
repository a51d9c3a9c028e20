package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperationType_IsValid(t *testing.T) {
	valid := []OperationType{
		OperationCreateNote,
		OperationUploadContent,
		OperationDeleteContentByTag,
		OperationCreateFolder,
		OperationRenameFolder,
		OperationDeleteFolder,
		OperationUploadImage,
		OperationUploadAudio,
	}
	for _, typ := range valid {
		assert.True(t, typ.IsValid(), "type %q should be valid", typ)
	}

	assert.False(t, OperationType("truncate_everything").IsValid())
	assert.False(t, OperationType("").IsValid())
}

func TestOperation_CanProcess(t *testing.T) {
	tests := []struct {
		name     string
		status   OperationStatus
		expected bool
	}{
		{"pending is processable", OperationStatusPending, true},
		{"failed is processable", OperationStatusFailed, true},
		{"processing is not processable", OperationStatusProcessing, false},
		{"completed is terminal", OperationStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{Status: tt.status}
			assert.Equal(t, tt.expected, op.CanProcess())
		})
	}
}

func TestOperation_IsReadyForRetry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name        string
		status      OperationStatus
		nextRetryAt *time.Time
		abandoned   bool
		expected    bool
	}{
		{"pending has never failed", OperationStatusPending, nil, false, false},
		{"processing is in flight", OperationStatusProcessing, nil, false, false},
		{"completed is terminal", OperationStatusCompleted, nil, false, false},
		{"failed without gate is ready", OperationStatusFailed, nil, false, true},
		{"failed with elapsed gate is ready", OperationStatusFailed, &past, false, true},
		{"failed with future gate is not ready", OperationStatusFailed, &future, false, false},
		{"abandoned is parked", OperationStatusFailed, nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{
				Status:      tt.status,
				NextRetryAt: tt.nextRetryAt,
				Abandoned:   tt.abandoned,
			}
			assert.Equal(t, tt.expected, op.IsReadyForRetry(now))
		})
	}
}

func TestOperation_RetryGateBoundary(t *testing.T) {
	now := time.Now()

	op := &Operation{Status: OperationStatusFailed, NextRetryAt: &now}
	assert.True(t, op.IsReadyForRetry(now), "gate equal to now counts as elapsed")
}
