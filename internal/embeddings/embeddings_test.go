package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapterConfig() AdapterConfig {
	return AdapterConfig{
		VectorSize:   3,
		MaxBatchSize: 32,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

// fakeBatchClient records every batch and delegates to fn.
type fakeBatchClient struct {
	batches [][]string
	fn      func(texts []string) ([][]float32, error)
}

func (f *fakeBatchClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	return f.fn(texts)
}

// echoVectors returns one fixed-size vector per text.
func echoVectors(texts []string, dims int) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, dims)
		out[i][0] = float32(i)
	}
	return out
}

func TestClientEmbed(t *testing.T) {
	var gotReq teiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{{0.1, 0.2}, {0.3, 0.4}}))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Model: "bge-small-en-v1.5"})
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []string{"alpha", "beta"}, gotReq.Inputs)
	assert.True(t, gotReq.Truncate)
}

func TestClientEmbedClassifiesStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		permanent bool
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, false},
		{"server error", http.StatusInternalServerError, ErrTransient, false},
		{"bad gateway", http.StatusBadGateway, ErrTransient, false},
		{"bad request", http.StatusBadRequest, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, err := NewClient(ClientConfig{BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.Embed(context.Background(), []string{"x"})
			require.Error(t, err)
			if tt.permanent {
				assert.False(t, IsRetryable(err))
			} else {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsRetryable(err))
			}
		})
	}
}

func TestClientEmbedNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse connections

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrTransient)
}

func TestClientEmbedEmptyInput(t *testing.T) {
	client, err := NewClient(ClientConfig{BaseURL: "http://localhost:8080"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAdapterSplitsByBatchSize(t *testing.T) {
	fake := &fakeBatchClient{fn: func(texts []string) ([][]float32, error) {
		return echoVectors(texts, 3), nil
	}}

	cfg := testAdapterConfig()
	cfg.MaxBatchSize = 2
	adapter, err := NewAdapter(fake, cfg, nil)
	require.NoError(t, err)

	vectors, err := adapter.EmbedDocuments(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	require.Len(t, fake.batches, 3)
	assert.Equal(t, []string{"a", "b"}, fake.batches[0])
	assert.Equal(t, []string{"e"}, fake.batches[2])
}

func TestAdapterSplitsByPayloadBytes(t *testing.T) {
	fake := &fakeBatchClient{fn: func(texts []string) ([][]float32, error) {
		return echoVectors(texts, 3), nil
	}}

	cfg := testAdapterConfig()
	cfg.MaxPayloadBytes = 10
	adapter, err := NewAdapter(fake, cfg, nil)
	require.NoError(t, err)

	// 6 + 6 bytes exceed the cap, so each text ships alone. The third,
	// oversized on its own, still goes out.
	_, err = adapter.EmbedDocuments(context.Background(), []string{"aaaaaa", "bbbbbb", "cccccccccccccccc"})
	require.NoError(t, err)
	require.Len(t, fake.batches, 3)
}

func TestAdapterRetriesTransientErrors(t *testing.T) {
	calls := 0
	fake := &fakeBatchClient{fn: func(texts []string) ([][]float32, error) {
		calls++
		if calls < 3 {
			return nil, ErrTransient
		}
		return echoVectors(texts, 3), nil
	}}

	adapter, err := NewAdapter(fake, testAdapterConfig(), nil)
	require.NoError(t, err)

	vectors, err := adapter.EmbedDocuments(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, 3, calls)
}

func TestAdapterExhaustsRetries(t *testing.T) {
	fake := &fakeBatchClient{fn: func([]string) ([][]float32, error) {
		return nil, ErrRateLimited
	}}

	adapter, err := NewAdapter(fake, testAdapterConfig(), nil)
	require.NoError(t, err)

	_, err = adapter.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrRetryExhausted)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, IsFatal(err))
	assert.Len(t, fake.batches, 3) // 1 attempt + 2 retries
}

func TestAdapterDoesNotRetryPermanentErrors(t *testing.T) {
	fake := &fakeBatchClient{fn: func([]string) ([][]float32, error) {
		return nil, context.DeadlineExceeded
	}}

	adapter, err := NewAdapter(fake, testAdapterConfig(), nil)
	require.NoError(t, err)

	_, err = adapter.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Len(t, fake.batches, 1)
}

func TestAdapterRejectsDimensionMismatch(t *testing.T) {
	fake := &fakeBatchClient{fn: func(texts []string) ([][]float32, error) {
		return echoVectors(texts, 5), nil
	}}

	adapter, err := NewAdapter(fake, testAdapterConfig(), nil)
	require.NoError(t, err)

	_, err = adapter.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestAdapterRejectsCountMismatch(t *testing.T) {
	fake := &fakeBatchClient{fn: func([]string) ([][]float32, error) {
		return [][]float32{{1, 2, 3}}, nil
	}}

	adapter, err := NewAdapter(fake, testAdapterConfig(), nil)
	require.NoError(t, err)

	_, err = adapter.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrCountMismatch)
}

func TestAdapterEmbedQuery(t *testing.T) {
	fake := &fakeBatchClient{fn: func(texts []string) ([][]float32, error) {
		return echoVectors(texts, 3), nil
	}}

	adapter, err := NewAdapter(fake, testAdapterConfig(), nil)
	require.NoError(t, err)

	vector, err := adapter.EmbedQuery(context.Background(), "query text")
	require.NoError(t, err)
	assert.Len(t, vector, 3)
	require.Len(t, fake.batches, 1)
	assert.Equal(t, []string{"query text"}, fake.batches[0])
}

func TestNewAdapterValidation(t *testing.T) {
	fake := &fakeBatchClient{fn: func([]string) ([][]float32, error) { return nil, nil }}

	_, err := NewAdapter(nil, testAdapterConfig(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testAdapterConfig()
	cfg.VectorSize = 0
	_, err = NewAdapter(fake, cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testAdapterConfig()
	cfg.MaxBatchSize = 0
	_, err = NewAdapter(fake, cfg, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
