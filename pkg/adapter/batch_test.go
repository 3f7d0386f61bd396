package adapter

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
)

func batchItems() []gwtypes.BatchRequestItem {
	return []gwtypes.BatchRequestItem{
		{CustomID: "row-1", ModelID: "gpt-4o-mini", Request: basicRequest(nil)},
	}
}

func TestAdapter_StartBatch_UploadsFileAndCreatesJob(t *testing.T) {
	var sawUpload, sawCreate bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			sawUpload = true
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			require.NoError(t, err)
			require.Equal(t, "multipart/form-data", mediaType)
			require.NotEmpty(t, params["boundary"])

			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "batch", r.FormValue("purpose"))
			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()

			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(uploadFileResponse{ID: "file-abc"})
		case r.Method == http.MethodPost && r.URL.Path == "/batches":
			sawCreate = true
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "file-abc", body["input_file_id"])
			assert.Equal(t, batchEndpointPath, body["endpoint"])
			assert.Equal(t, batchCompletionWindow, body["completion_window"])

			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(createBatchResponse{ID: "batch-123", Status: "validating"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	handle, err := a.StartBatch(context.Background(), batchItems(), testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.True(t, sawUpload)
	assert.True(t, sawCreate)
	assert.Equal(t, "batch-123", handle.ID)
	assert.Equal(t, "file-abc", handle.InputFileID)
	assert.Equal(t, "openai-primary", handle.Provider)
}

func TestAdapter_StartBatch_UnsupportedKindReturnsErrorWithoutAnyHTTPCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request for unsupported-batch kind: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	binding := testBinding("anthropic-primary", server.URL)
	binding.Kind = "anthropic"

	handle, err := a.StartBatch(context.Background(), batchItems(), testClients(t, server), Me{
		ModelName: "claude-3-5-sonnet",
		Binding:   binding,
	})

	require.Nil(t, handle)
	require.Error(t, err)
	assert.True(t, gwerrors.IsUnsupportedModelProviderForBatchInferenceError(err))
}

func TestAdapter_PollBatch_PendingStatusReturnsNoItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batches/batch-123", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(createBatchResponse{ID: "batch-123", Status: "in_progress"})
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	result, err := a.PollBatch(context.Background(), &gwtypes.BatchHandle{Provider: "openai-primary", ID: "batch-123"}, testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, gwtypes.BatchPending, result.Status)
	assert.Empty(t, result.Items)
}

func TestAdapter_PollBatch_CompletedDownloadsAndDecodesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/batches/batch-123":
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(createBatchResponse{
				ID:           "batch-123",
				Status:       "completed",
				OutputFileID: "file-out",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/files/file-out/content":
			row := batchWireResultRow{
				CustomID: "row-1",
				Response: &struct {
					StatusCode int                    `json:"status_code"`
					Body       map[string]interface{} `json:"body"`
				}{
					StatusCode: 200,
					Body:       openAIWireResponse("Paris", "stop"),
				},
			}
			line, err := json.Marshal(row)
			require.NoError(t, err)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(append(line, '\n'))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	result, err := a.PollBatch(context.Background(), &gwtypes.BatchHandle{Provider: "openai-primary", ID: "batch-123", InputFileID: "file-abc"}, testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, gwtypes.BatchCompleted, result.Status)
	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.Equal(t, "row-1", item.CustomID)
	require.NoError(t, item.Err)
	require.NotNil(t, item.Response)
	assert.Equal(t, "Paris", item.Response.Output[0].Text)
}

func TestAdapter_PollBatch_FailedRowSurfacesPerItemError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/batches/batch-123":
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(createBatchResponse{
				ID:           "batch-123",
				Status:       "completed",
				OutputFileID: "file-out",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/files/file-out/content":
			row := batchWireResultRow{
				CustomID: "row-1",
				Error: &struct {
					Message string `json:"message"`
				}{Message: "invalid request"},
			}
			line, err := json.Marshal(row)
			require.NoError(t, err)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(append(line, '\n'))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	result, err := a.PollBatch(context.Background(), &gwtypes.BatchHandle{Provider: "openai-primary", ID: "batch-123"}, testClients(t, server), Me{
		ModelName: "gpt-4o-mini-alias",
		Binding:   testBinding("openai-primary", server.URL),
	})

	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.Equal(t, "row-1", item.CustomID)
	require.Error(t, item.Err)
	assert.Nil(t, item.Response)
	assert.Contains(t, item.Err.Error(), "invalid request")
}

func TestAdapter_PollBatch_UnsupportedKindReturnsErrorWithoutAnyHTTPCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request for unsupported-batch kind: %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	a := New(DefaultRegistry())
	binding := testBinding("google-primary", server.URL)
	binding.Kind = "google"

	result, err := a.PollBatch(context.Background(), &gwtypes.BatchHandle{Provider: "google-primary", ID: "batch-123"}, testClients(t, server), Me{
		ModelName: "gemini-1.5-pro",
		Binding:   binding,
	})

	require.Nil(t, result)
	require.Error(t, err)
	assert.True(t, gwerrors.IsUnsupportedModelProviderForBatchInferenceError(err))
}
