package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"news-processor/internal/middleware"
	"news-processor/internal/pipeline"
	"news-processor/internal/services/categorizer"
	"news-processor/internal/services/summarizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	input string
	out   string
	err   error
}

func (s *stubSummarizer) Summarize(_ context.Context, text string) (string, error) {
	s.input = text
	return s.out, s.err
}

type stubCategorizer struct {
	input  string
	result categorizer.Result
	err    error
}

func (s *stubCategorizer) Categorize(_ context.Context, text string) (categorizer.Result, error) {
	s.input = text
	return s.result, s.err
}

type stubBatch struct {
	report pipeline.BatchReport
	err    error
}

func (s *stubBatch) RunBatch(context.Context) (pipeline.BatchReport, error) {
	return s.report, s.err
}

func newTestRouter(t *testing.T, s *stubSummarizer, c *stubCategorizer, b *stubBatch, checks map[string]ReadinessCheck) *Router {
	t.Helper()
	table, err := categorizer.NewTable([]categorizer.Category{
		{Index: 1, Name: "Politics"},
		{Index: 2, Name: "Business"},
	})
	require.NoError(t, err)

	r := NewRouter(nil, 0)
	r.RegisterHealthRoutes(checks)
	r.RegisterProcessorRoutes(NewProcessorHandler(s, c, table, b))
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSummarizeEndpoint(t *testing.T) {
	s := &stubSummarizer{out: "the summary"}
	r := newTestRouter(t, s, &stubCategorizer{}, &stubBatch{}, nil)

	rec := serve(r, http.MethodPost, "/api/v1/summarize", `{"title":"Headline","content":"Body text"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SummarizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the summary", resp.Summary)
	assert.Equal(t, "Headline - Body text", s.input)
}

func TestSummarizeEndpointValidation(t *testing.T) {
	r := newTestRouter(t, &stubSummarizer{}, &stubCategorizer{}, &stubBatch{}, nil)

	rec := serve(r, http.MethodPost, "/api/v1/summarize", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))

	rec = serve(r, http.MethodPost, "/api/v1/summarize", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarizeEndpointExhausted(t *testing.T) {
	s := &stubSummarizer{err: &summarizer.ExhaustedError{Attempts: 5, LastLength: 12}}
	r := newTestRouter(t, s, &stubCategorizer{}, &stubBatch{}, nil)

	rec := serve(r, http.MethodPost, "/api/v1/summarize", `{"content":"text"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "SUMMARY_FAILED", errorCode(t, rec))
}

func TestCategorizeEndpoint(t *testing.T) {
	c := &stubCategorizer{result: categorizer.Result{
		Index:   2,
		Outcome: categorizer.OutcomeMajority,
		Votes: []categorizer.Vote{
			{Model: 3, Index: 2, Resolved: true, Attempts: 1},
			{Model: 4, Attempts: 5},
			{Model: 5, Index: 2, Resolved: true, Attempts: 2},
		},
	}}
	r := newTestRouter(t, &stubSummarizer{}, c, &stubBatch{}, nil)

	rec := serve(r, http.MethodPost, "/api/v1/categorize", `{"title":"Markets","content":"Stocks rallied"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CategorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Category)
	assert.Equal(t, "Business", resp.Name)
	assert.Equal(t, "majority", resp.Outcome)
	require.Len(t, resp.Votes, 3)
	assert.Nil(t, resp.Votes[1].Category)
	require.NotNil(t, resp.Votes[0].Category)
	assert.Equal(t, 2, *resp.Votes[0].Category)
	assert.Equal(t, "Markets . Stocks rallied", c.input)
}

func TestCategorizeEndpointTruncatesUntitledContent(t *testing.T) {
	c := &stubCategorizer{result: categorizer.Result{Index: 1, Outcome: categorizer.OutcomeAgreement}}
	r := newTestRouter(t, &stubSummarizer{}, c, &stubBatch{}, nil)

	body := `{"content":"` + strings.Repeat("é", 4500) + `"}`
	rec := serve(r, http.MethodPost, "/api/v1/categorize", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4000, utf8.RuneCountInString(c.input))
}

func TestCategorizeEndpointNoCategory(t *testing.T) {
	c := &stubCategorizer{result: categorizer.Result{Outcome: categorizer.OutcomeNoCategory}}
	r := newTestRouter(t, &stubSummarizer{}, c, &stubBatch{}, nil)

	rec := serve(r, http.MethodPost, "/api/v1/categorize", `{"content":"???"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NO_CATEGORY", errorCode(t, rec))
}

func TestCategorizeEndpointUpstreamError(t *testing.T) {
	c := &stubCategorizer{err: errors.New("401 unauthorized")}
	r := newTestRouter(t, &stubSummarizer{}, c, &stubBatch{}, nil)

	rec := serve(r, http.MethodPost, "/api/v1/categorize", `{"content":"text"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_ERROR", errorCode(t, rec))
}

func TestProcessEndpoint(t *testing.T) {
	b := &stubBatch{report: pipeline.BatchReport{Fetched: 3, Processed: 2, Failed: 1}}
	r := newTestRouter(t, &stubSummarizer{}, &stubCategorizer{}, b, nil)

	rec := serve(r, http.MethodPost, "/api/v1/process", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report pipeline.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)
}

func TestProcessEndpointBusy(t *testing.T) {
	b := &stubBatch{err: pipeline.ErrBatchRunning}
	r := newTestRouter(t, &stubSummarizer{}, &stubCategorizer{}, b, nil)

	rec := serve(r, http.MethodPost, "/api/v1/process", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BATCH_RUNNING", errorCode(t, rec))
}

func TestHealthAndReady(t *testing.T) {
	checks := map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}
	r := newTestRouter(t, &stubSummarizer{}, &stubCategorizer{}, &stubBatch{}, checks)

	rec := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
