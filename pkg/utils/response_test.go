package utils

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req = req.WithContext(logger.WithContext(req.Context()))

	rec := httptest.NewRecorder()
	RespondError(rec, req, http.StatusBadRequest, "bad")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad"}`, rec.Body.String())
	assert.JSONEq(t, `{"level":"warn","status":400,"reason":"bad","message":"request rejected"}`, logs.String())

	logs.Reset()
	RespondError(httptest.NewRecorder(), req, http.StatusBadGateway, "model request failed")
	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), `"status":502`)
}

func TestFlushWriterCommitsHeadersOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	fw := NewFlushWriter(rec)
	assert.False(t, fw.Started())

	require.NoError(t, fw.WriteChunk("Hi"))
	require.NoError(t, fw.WriteChunk(" there"))

	assert.True(t, fw.Started())
	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Hi there", rec.Body.String())
}
