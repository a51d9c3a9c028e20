package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-notes/inkwell-sync/internal/domain"
	"github.com/inkwell-notes/inkwell-sync/internal/outbox"
)

func testOperation(opType domain.OperationType) *domain.Operation {
	return &domain.Operation{
		ID:       "op-1",
		Type:     opType,
		TargetID: "note-42",
		Payload:  json.RawMessage(`{"title":"groceries"}`),
		Status:   domain.OperationStatusProcessing,
	}
}

// unsignedToken builds a syntactically valid JWT with the given exp claim.
// The client never verifies the signature, only reads the claim.
func unsignedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	encode := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}

	header := encode(map[string]string{"alg": "none", "typ": "JWT"})
	claims := encode(map[string]any{"sub": "user-1", "exp": exp.Unix()})
	return header + "." + claims + "."
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestClient_Apply_Created(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/notes", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "op-1", r.Header.Get("Idempotency-Key"))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"syncTag":"v7"}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, SessionToken: "secret"})
	require.NoError(t, err)

	ack, err := client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.NoError(t, err)
	assert.True(t, ack.Created)
	assert.Equal(t, "v7", ack.Body["syncTag"])
}

func TestClient_Apply_UpdateNotCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/notes/note-42/content", r.URL.Path)
		fmt.Fprint(w, `{"data":{"syncTag":"v8"}}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	ack, err := client.Apply(context.Background(), testOperation(domain.OperationUploadContent))
	require.NoError(t, err)
	assert.False(t, ack.Created)
}

func TestClient_Apply_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	ack, err := client.Apply(context.Background(), testOperation(domain.OperationDeleteFolder))
	require.NoError(t, err)
	assert.False(t, ack.Created)
	assert.Nil(t, ack.Body)
}

func TestClient_Apply_ServiceError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized},
		{name: "not found", statusCode: http.StatusNotFound},
		{name: "conflict", statusCode: http.StatusConflict},
		{name: "internal error", statusCode: http.StatusInternalServerError},
		{name: "bad gateway", statusCode: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.statusCode)
			}))
			defer server.Close()

			client, err := NewClient(Config{BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
			require.Error(t, err)

			var remoteErr *Error
			require.ErrorAs(t, err, &remoteErr)
			assert.Equal(t, tt.statusCode, remoteErr.StatusCode())
		})
	}
}

func TestClient_Apply_MalformedAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.ErrorIs(t, err, outbox.ErrBadServerResponse)
}

func TestClient_Apply_ExpiredSessionToken(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		SessionToken: unsignedToken(t, time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.ErrorIs(t, err, outbox.ErrSessionExpired)
	assert.Zero(t, hits, "expired session must fail before reaching the service")
}

func TestClient_Apply_ValidSessionToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:      server.URL,
		SessionToken: unsignedToken(t, time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.NoError(t, err)
}

func TestClient_Apply_OpaqueTokenSentAsIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer opaque-session-id", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, SessionToken: "opaque-session-id"})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.NoError(t, err)
}

func TestClient_Apply_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.Error(t, err)

	assert.Equal(t, domain.ErrorKindNetwork, outbox.ClassifyError(err))
}

func TestClient_Apply_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationCreateNote))
	require.Error(t, err)

	assert.Equal(t, domain.ErrorKindTimeout, outbox.ClassifyError(err))
}

func TestClient_Apply_UnknownOperationType(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = client.Apply(context.Background(), testOperation(domain.OperationType("teleport_note")))
	require.Error(t, err)
}

func TestClient_Apply_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Apply(ctx, testOperation(domain.OperationCreateNote))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		opType domain.OperationType
		method string
		path   string
	}{
		{domain.OperationCreateNote, http.MethodPost, "/api/v1/notes"},
		{domain.OperationUploadContent, http.MethodPut, "/api/v1/notes/note-42/content"},
		{domain.OperationDeleteContentByTag, http.MethodDelete, "/api/v1/notes/note-42/content"},
		{domain.OperationCreateFolder, http.MethodPost, "/api/v1/folders"},
		{domain.OperationRenameFolder, http.MethodPatch, "/api/v1/folders/note-42"},
		{domain.OperationDeleteFolder, http.MethodDelete, "/api/v1/folders/note-42"},
		{domain.OperationUploadImage, http.MethodPost, "/api/v1/notes/note-42/attachments/image"},
		{domain.OperationUploadAudio, http.MethodPost, "/api/v1/notes/note-42/attachments/audio"},
	}

	for _, tt := range tests {
		t.Run(string(tt.opType), func(t *testing.T) {
			method, path, err := routeFor(testOperation(tt.opType))
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: 503, Message: "maintenance"}
	assert.Contains(t, err.Error(), "503")
	assert.True(t, errors.As(error(err), new(*Error)))
}
