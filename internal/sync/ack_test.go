package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSyncTag(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		expected string
		found    bool
	}{
		{
			name:     "top-level field",
			body:     map[string]any{"syncTag": "v42"},
			expected: "v42",
			found:    true,
		},
		{
			name:     "data envelope",
			body:     map[string]any{"data": map[string]any{"syncTag": "v7"}},
			expected: "v7",
			found:    true,
		},
		{
			name: "webview shape",
			body: map[string]any{
				"webviewResponse": map[string]any{
					"note": map[string]any{"syncTag": "v3"},
				},
			},
			expected: "v3",
			found:    true,
		},
		{
			name: "top-level wins over data envelope",
			body: map[string]any{
				"syncTag": "top",
				"data":    map[string]any{"syncTag": "nested"},
			},
			expected: "top",
			found:    true,
		},
		{
			name: "data envelope wins over webview shape",
			body: map[string]any{
				"data": map[string]any{"syncTag": "nested"},
				"webviewResponse": map[string]any{
					"note": map[string]any{"syncTag": "deep"},
				},
			},
			expected: "nested",
			found:    true,
		},
		{
			name:  "no shape matches",
			body:  map[string]any{"status": "ok"},
			found: false,
		},
		{
			name:  "tag present but not a string",
			body:  map[string]any{"syncTag": 42},
			found: false,
		},
		{
			name:  "empty tag does not count",
			body:  map[string]any{"syncTag": ""},
			found: false,
		},
		{
			name:  "data envelope is not an object",
			body:  map[string]any{"data": "nope"},
			found: false,
		},
		{
			name:  "nil body",
			body:  nil,
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, ok := ExtractSyncTag(tt.body)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, tag)
		})
	}
}
