package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/epiintel/drkb/internal/log"
)

// JobStatus is the lifecycle state of a bulk embedding job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobExpired   JobStatus = "expired"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job will make no further progress.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobExpired, JobCancelled:
		return true
	}
	return false
}

// BatchJob is a point-in-time view of a provider-side bulk job.
type BatchJob struct {
	ID           string
	Status       JobStatus
	OutputFileID string
	ErrorFileID  string
}

// BatchAPI is the provider surface the bulk path needs: upload an input
// file, create a job over it, poll the job, download results.
type BatchAPI interface {
	UploadInput(ctx context.Context, name string, data []byte) (fileID string, err error)
	CreateJob(ctx context.Context, inputFileID string) (jobID string, err error)
	Job(ctx context.Context, jobID string) (BatchJob, error)
	FileContent(ctx context.Context, fileID string) ([]byte, error)
}

// Clock abstracts time for the polling loop so tests can run it without
// real waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// BulkClient embeds large batches through the provider's asynchronous batch
// flow: upload a JSONL request file, create a job, poll until it finishes,
// then download and reassemble the vectors in input order.
type BulkClient struct {
	api          BatchAPI
	model        string
	dimensions   int
	pollInterval time.Duration
	maxWait      time.Duration
	clock        Clock
	logger       log.Logger
}

// BulkOption customizes a BulkClient.
type BulkOption func(*BulkClient)

// WithClock substitutes the wall clock, used by tests.
func WithClock(clock Clock) BulkOption {
	return func(b *BulkClient) { b.clock = clock }
}

// NewBulkClient creates a bulk embedding client.
func NewBulkClient(api BatchAPI, model string, dimensions int, pollInterval, maxWait time.Duration, logger log.Logger, opts ...BulkOption) *BulkClient {
	b := &BulkClient{
		api:          api,
		model:        model,
		dimensions:   dimensions,
		pollInterval: pollInterval,
		maxWait:      maxWait,
		clock:        systemClock{},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type bulkRequestBody struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions"`
}

type bulkRequest struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     bulkRequestBody `json:"body"`
}

type bulkResult struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Embed submits texts as one bulk job and blocks until the job finishes,
// times out, or ctx is canceled.
func (b *BulkClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	input, err := b.encodeInput(texts)
	if err != nil {
		return nil, err
	}

	// Unique name per job; the OpenAI file store keeps old inputs around.
	name := fmt.Sprintf("embeddings-%s.jsonl", uuid.NewString())
	fileID, err := b.api.UploadInput(ctx, name, input)
	if err != nil {
		return nil, fmt.Errorf("uploading bulk input: %w", err)
	}

	jobID, err := b.api.CreateJob(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("creating bulk job: %w", err)
	}

	b.logger.Info("bulk embedding job submitted",
		"job", jobID, "texts", len(texts), "max_wait", b.maxWait)

	job, err := b.await(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return b.collect(ctx, job, len(texts))
}

func (b *BulkClient) await(ctx context.Context, jobID string) (BatchJob, error) {
	deadline := b.clock.Now().Add(b.maxWait)

	for {
		job, err := b.api.Job(ctx, jobID)
		if err != nil {
			return BatchJob{}, fmt.Errorf("polling bulk job %s: %w", jobID, err)
		}

		switch {
		case job.Status == JobCompleted:
			return job, nil
		case job.Status.Terminal():
			return BatchJob{}, fmt.Errorf("%w: job %s finished as %s", ErrBulkFailed, jobID, job.Status)
		}

		if b.clock.Now().After(deadline) {
			return BatchJob{}, fmt.Errorf("%w: job %s still %s after %s",
				ErrBulkTimeout, jobID, job.Status, b.maxWait)
		}

		b.logger.Debug("bulk job in progress", "job", jobID, "status", job.Status)
		if err := b.clock.Sleep(ctx, b.pollInterval); err != nil {
			return BatchJob{}, fmt.Errorf("waiting on bulk job %s: %w", jobID, err)
		}
	}
}

func (b *BulkClient) encodeInput(texts []string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, text := range texts {
		req := bulkRequest{
			CustomID: itemID(i),
			Method:   "POST",
			URL:      "/v1/embeddings",
			Body: bulkRequestBody{
				Model:      b.model,
				Input:      text,
				Dimensions: b.dimensions,
			},
		}
		if err := enc.Encode(req); err != nil {
			return nil, fmt.Errorf("encoding bulk request %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// collect downloads the output file and reorders results by custom id.
// Results arrive in arbitrary order.
func (b *BulkClient) collect(ctx context.Context, job BatchJob, count int) ([][]float32, error) {
	if job.OutputFileID == "" {
		return nil, fmt.Errorf("%w: job %s completed without an output file", ErrBulkFailed, job.ID)
	}

	data, err := b.api.FileContent(ctx, job.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("downloading bulk output: %w", err)
	}

	vectors := make([][]float32, count)
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var res bulkResult
		if err := dec.Decode(&res); err != nil {
			return nil, fmt.Errorf("parsing bulk output: %w", err)
		}

		idx, ok := itemIndex(res.CustomID, count)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected custom id %q", ErrBulkFailed, res.CustomID)
		}
		if res.Error != nil || res.Response.StatusCode != 200 {
			return nil, fmt.Errorf("%w: item %s failed (status %d)",
				ErrBulkFailed, res.CustomID, res.Response.StatusCode)
		}
		if len(res.Response.Body.Data) != 1 {
			return nil, fmt.Errorf("%w: item %s returned %d embeddings",
				ErrBulkFailed, res.CustomID, len(res.Response.Body.Data))
		}

		vec := res.Response.Body.Data[0].Embedding
		if err := checkDimensions(vec, b.dimensions); err != nil {
			return nil, err
		}
		vectors[idx] = vec
	}

	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("%w: no result for %s", ErrBulkFailed, itemID(i))
		}
	}

	b.logger.Info("bulk embedding job collected", "job", job.ID, "vectors", count)
	return vectors, nil
}

func itemID(i int) string { return fmt.Sprintf("item-%d", i) }

func itemIndex(customID string, count int) (int, bool) {
	var i int
	if _, err := fmt.Sscanf(customID, "item-%d", &i); err != nil {
		return 0, false
	}
	if i < 0 || i >= count {
		return 0, false
	}
	return i, true
}

// openaiBatchAPI implements BatchAPI against the OpenAI Files and Batches
// endpoints.
type openaiBatchAPI struct {
	api openai.Client
}

// NewOpenAIBatchAPI returns a BatchAPI backed by the OpenAI Batch API.
func NewOpenAIBatchAPI(apiKey string) BatchAPI {
	return &openaiBatchAPI{api: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (o *openaiBatchAPI) UploadInput(ctx context.Context, name string, data []byte) (string, error) {
	file, err := o.api.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(bytes.NewReader(data), name, "application/jsonl"),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", err
	}
	return file.ID, nil
}

func (o *openaiBatchAPI) CreateJob(ctx context.Context, inputFileID string) (string, error) {
	batch, err := o.api.Batches.New(ctx, openai.BatchNewParams{
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
		Endpoint:         openai.BatchNewParamsEndpointV1Embeddings,
		InputFileID:      inputFileID,
	})
	if err != nil {
		return "", err
	}
	return batch.ID, nil
}

func (o *openaiBatchAPI) Job(ctx context.Context, jobID string) (BatchJob, error) {
	batch, err := o.api.Batches.Get(ctx, jobID)
	if err != nil {
		return BatchJob{}, err
	}
	return BatchJob{
		ID:           batch.ID,
		Status:       jobStatus(batch.Status),
		OutputFileID: batch.OutputFileID,
		ErrorFileID:  batch.ErrorFileID,
	}, nil
}

func (o *openaiBatchAPI) FileContent(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := o.api.Files.Content(ctx, fileID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func jobStatus(s openai.BatchStatus) JobStatus {
	switch s {
	case openai.BatchStatusValidating:
		return JobPending
	case openai.BatchStatusInProgress, openai.BatchStatusFinalizing, openai.BatchStatusCancelling:
		return JobRunning
	case openai.BatchStatusCompleted:
		return JobCompleted
	case openai.BatchStatusFailed:
		return JobFailed
	case openai.BatchStatusExpired:
		return JobExpired
	case openai.BatchStatusCancelled:
		return JobCancelled
	}
	return JobRunning
}
