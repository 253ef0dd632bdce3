package review

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukehal/segreview/pkg/cerr"
)

func newTestRouter(te *testEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cerr.NewJSONResponseChiMiddleware())
	NewServer(te.engine, 0).Routes(r)
	return r
}

func TestServer_SyncAndReviewFlow(t *testing.T) {
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1",
		answerPayload("start-click-submit", "None", filledFinal))
	router := newTestRouter(te)

	// Sync pulls the submission in.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var syncRes SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &syncRes))
	assert.Equal(t, 1, syncRes.Imported)

	// The synced task is next up for review, with a suggestion attached.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/next", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var next struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
		Suggestion Suggestion `json:"suggestion"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.Equal(t, "HIT-1", next.Task.ID)
	assert.True(t, next.Suggestion.Approve)

	// Approve it.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/HIT-1/approve",
		strings.NewReader(`{"feedback":"looks good"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, te.client.approved["A-1"])

	// Nothing left to review.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/next", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The summary reflects the decision.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.Groups, 1)
	assert.Equal(t, "g-1", summary.Groups[0].ExpGroup)
	assert.Equal(t, 1, summary.Groups[0].Approved)
}

func TestServer_RejectValidation(t *testing.T) {
	te := newTestEnv(t)
	te.addGroup(t, "g-1", 2)
	te.client.addSubmission("HIT-1", "g-1", "A-1", "W-1",
		answerPayload("start-click-submit", "None", filledFinal))
	router := newTestRouter(te)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Unknown reason is a client error and leaves the task untouched.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/HIT-1/reject",
		strings.NewReader(`{"reason":"sloppy"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, te.client.rejected)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/HIT-1/reject",
		strings.NewReader(`{"reason":"inaccurate"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Segment annotation too inaccurate", te.client.rejected["A-1"])
}

func TestServer_UnknownTask(t *testing.T) {
	te := newTestEnv(t)
	router := newTestRouter(te)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/HIT-NOPE/approve", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
