package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/inferencegw/core/pkg/gwerrors"
	"github.com/inferencegw/core/pkg/gwtypes"
	internalhttp "github.com/inferencegw/core/pkg/internal/http"
)

// batchCompletionWindow is the only window value every OpenAI-family
// batch endpoint this adapter targets accepts.
const batchCompletionWindow = "24h"

// batchEndpointPath is the relative URL a batch row's own "url" field
// carries: the same chat-completions endpoint as KindSpec.ChatPath's
// unary form for this family, but with the "/v1" prefix that ChatPath
// leaves to the family's base URL.
const batchEndpointPath = "/v1/chat/completions"

type batchWireRow struct {
	CustomID string                 `json:"custom_id"`
	Method   string                 `json:"method"`
	URL      string                 `json:"url"`
	Body     map[string]interface{} `json:"body"`
}

type batchWireResultRow struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                    `json:"status_code"`
		Body       map[string]interface{} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type uploadFileResponse struct {
	ID string `json:"id"`
}

type createBatchResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

// StartBatch implements the first two steps of spec.md §6's "Batch
// endpoints (OpenAI family)" protocol: multipart-upload a JSONL file of
// translated request bodies with purpose=batch, then create the batch
// job against it. Every other provider family returns
// UnsupportedModelProviderForBatchInference — batch is an opt-in
// capability the KindSpec declares, not a universal one (spec.md §4.4).
func (a *Adapter) StartBatch(ctx context.Context, items []gwtypes.BatchRequestItem, clients Clients, me Me) (*gwtypes.BatchHandle, error) {
	spec, ok := a.registry.Lookup(me.Binding.Kind)
	if !ok {
		return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("unknown provider kind %q", me.Binding.Kind), nil)
	}
	if !spec.SupportsBatch {
		return nil, gwerrors.NewUnsupportedModelProviderForBatchInferenceError(me.Binding.Name, me.Binding.Kind)
	}

	translator := spec.NewTranslator()
	jsonl, err := buildBatchJSONL(ctx, translator, items, me)
	if err != nil {
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}

	resolved, err := clients.Credential.Resolve(me.Binding.Name, me.Binding.Credential, nil)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	spec.ApplyAuth(headers, resolved)
	client := clients.HTTP.WithBaseURL(effectiveBaseURL(spec, me.Binding))

	rawBody, contentType, err := multipartBatchUpload(jsonl)
	if err != nil {
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "request", err)
	}

	var uploaded uploadFileResponse
	if err := client.DoJSON(ctx, internalhttp.Request{
		Method:      http.MethodPost,
		Path:        "/files",
		Headers:     headers,
		RawBody:     rawBody,
		ContentType: contentType,
	}, &uploaded); err != nil {
		return nil, gwerrors.NewInferenceClientError(me.Binding.Name, 0, err.Error(), err)
	}

	var created createBatchResponse
	jsonHeaders := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		jsonHeaders[k] = v
	}
	if err := client.DoJSON(ctx, internalhttp.Request{
		Method:  http.MethodPost,
		Path:    "/batches",
		Headers: jsonHeaders,
		Body: map[string]interface{}{
			"input_file_id":     uploaded.ID,
			"endpoint":          batchEndpointPath,
			"completion_window": batchCompletionWindow,
		},
	}, &created); err != nil {
		return nil, gwerrors.NewInferenceClientError(me.Binding.Name, 0, err.Error(), err)
	}

	return &gwtypes.BatchHandle{Provider: me.Binding.Name, ID: created.ID, InputFileID: uploaded.ID}, nil
}

// PollBatch implements the poll/download half of spec.md §6's batch
// protocol: GET /batches/{id} maps upstream status onto the canonical
// three-state BatchStatus, and on completion the output file is
// downloaded and parsed as JSONL keyed by custom_id.
func (a *Adapter) PollBatch(ctx context.Context, handle *gwtypes.BatchHandle, clients Clients, me Me) (*gwtypes.BatchResult, error) {
	spec, ok := a.registry.Lookup(me.Binding.Kind)
	if !ok {
		return nil, gwerrors.NewInvalidRequestError(fmt.Sprintf("unknown provider kind %q", me.Binding.Kind), nil)
	}
	if !spec.SupportsBatch {
		return nil, gwerrors.NewUnsupportedModelProviderForBatchInferenceError(me.Binding.Name, me.Binding.Kind)
	}

	resolved, err := clients.Credential.Resolve(me.Binding.Name, me.Binding.Credential, nil)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	spec.ApplyAuth(headers, resolved)
	client := clients.HTTP.WithBaseURL(effectiveBaseURL(spec, me.Binding))

	var status createBatchResponse
	if err := client.DoJSON(ctx, internalhttp.Request{
		Method:  http.MethodGet,
		Path:    "/batches/" + handle.ID,
		Headers: headers,
	}, &status); err != nil {
		return nil, gwerrors.NewInferenceClientError(me.Binding.Name, 0, err.Error(), err)
	}

	canonical, terminal := batchStatusFromUpstream(status.Status)
	if !terminal || canonical != gwtypes.BatchCompleted {
		return &gwtypes.BatchResult{Status: canonical}, nil
	}

	resp, err := client.Do(ctx, internalhttp.Request{
		Method:  http.MethodGet,
		Path:    fmt.Sprintf("/files/%s/content", status.OutputFileID),
		Headers: headers,
	})
	if err != nil {
		return nil, gwerrors.NewInferenceClientError(me.Binding.Name, 0, err.Error(), err)
	}

	translator := spec.NewTranslator()
	items, err := parseBatchResultJSONL(translator, resp.Body)
	if err != nil {
		return nil, gwerrors.NewSerializationError(me.Binding.Name, "response", err)
	}

	return &gwtypes.BatchResult{Status: gwtypes.BatchCompleted, Items: items}, nil
}

// batchStatusFromUpstream implements spec.md §6's status mapping:
// {validating,in_progress,finalizing} → Pending, completed → Completed,
// {failed,expired,cancelling,cancelled} → Failed. terminal is false for
// Pending so PollBatch callers know to poll again later.
func batchStatusFromUpstream(status string) (canonical gwtypes.BatchStatus, terminal bool) {
	switch status {
	case "validating", "in_progress", "finalizing":
		return gwtypes.BatchPending, false
	case "completed":
		return gwtypes.BatchCompleted, true
	case "failed", "expired", "cancelling", "cancelled":
		return gwtypes.BatchFailed, true
	default:
		return gwtypes.BatchPending, false
	}
}

func buildBatchJSONL(ctx context.Context, translator Translator, items []gwtypes.BatchRequestItem, me Me) ([]byte, error) {
	var buf bytes.Buffer
	for _, item := range items {
		body, err := translator.TranslateRequest(ctx, item.Request, item.ModelID, me.Binding.Name, me.Binding.Kind)
		if err != nil {
			return nil, fmt.Errorf("custom_id %q: %w", item.CustomID, err)
		}
		delete(body, "stream")
		row := batchWireRow{CustomID: item.CustomID, Method: http.MethodPost, URL: batchEndpointPath, Body: body}
		line, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("custom_id %q: %w", item.CustomID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func parseBatchResultJSONL(translator Translator, raw []byte) ([]gwtypes.BatchResultItem, error) {
	var items []gwtypes.BatchResultItem
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var row batchWireResultRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("malformed batch result row: %w", err)
		}
		if row.Error != nil {
			items = append(items, gwtypes.BatchResultItem{CustomID: row.CustomID, Err: fmt.Errorf("%s", row.Error.Message)})
			continue
		}
		if row.Response == nil {
			items = append(items, gwtypes.BatchResultItem{CustomID: row.CustomID, Err: fmt.Errorf("batch result row carries neither response nor error")})
			continue
		}
		bodyBytes, err := json.Marshal(row.Response.Body)
		if err != nil {
			return nil, fmt.Errorf("custom_id %q: %w", row.CustomID, err)
		}
		if row.Response.StatusCode >= 400 {
			items = append(items, gwtypes.BatchResultItem{CustomID: row.CustomID, Err: statusToError("batch", row.Response.StatusCode, string(bodyBytes))})
			continue
		}
		providerResp, err := translator.TranslateResponse(bodyBytes, gwtypes.JSONModeOff)
		if err != nil {
			items = append(items, gwtypes.BatchResultItem{CustomID: row.CustomID, Err: gwerrors.NewSerializationError("batch", "response", err)})
			continue
		}
		items = append(items, gwtypes.BatchResultItem{CustomID: row.CustomID, Response: providerResp})
	}
	return items, nil
}

// multipartBatchUpload builds the multipart/form-data body spec.md §6
// requires for "POST /files" with purpose=batch: one "purpose" field
// and one "file" field carrying the JSONL payload.
func multipartBatchUpload(jsonl []byte) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("purpose", "batch"); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("file", "batch.jsonl")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(jsonl); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
