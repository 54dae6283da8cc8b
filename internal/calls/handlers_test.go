package calls

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/callwatch/internal/transcript"
)

func setupTestRouter() (*gin.Engine, *Service) {
	gin.SetMode(gin.TestMode)

	svc := newTestService(NewMemoryStore())
	handler := NewHandler(svc)

	r := gin.New()
	handler.RegisterRoutes(r.Group("/v1"))
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandler_CallLifecycle(t *testing.T) {
	r, _ := setupTestRouter()

	w := doJSON(t, r, "POST", "/v1/calls", StartRequest{CallID: "call-h1", CustomerName: "Juan Pérez"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	call := decode(t, w)["call"].(map[string]any)
	assert.Equal(t, "call-h1", call["callId"])
	assert.Equal(t, "active", call["status"])

	w = doJSON(t, r, "POST", "/v1/calls/call-h1/turns", greeting(1, "00:05"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	turn := body["turn"].(map[string]any)
	assert.Equal(t, float64(91), turn["compositeScore"])
	assert.Equal(t, "ok", turn["label"])
	assert.Equal(t, "Agent", turn["speaker"])
	assert.Empty(t, body["events"])
	assert.NotContains(t, body, "PrevRisk")

	w = doJSON(t, r, "POST", "/v1/calls/call-h1/turns", skippedDisclosure(2, "00:20"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body = decode(t, w)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "missing_disclosure", events[0].(map[string]any)["rule"])
	assert.Equal(t, "critical", body["risk"].(map[string]any)["overallLabel"])

	w = doJSON(t, r, "GET", "/v1/calls/call-h1/turns?after=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(1), body["count"])

	w = doJSON(t, r, "GET", "/v1/calls/call-h1/events?after=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = doJSON(t, r, "GET", "/v1/calls/call-h1/risk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(72), decode(t, w)["risk"].(map[string]any)["compositeAvg"])

	w = doJSON(t, r, "GET", "/v1/calls/call-h1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, float64(2), body["call"].(map[string]any)["turnCount"])
	assert.Equal(t, "critical", body["risk"].(map[string]any)["overallLabel"])

	w = doJSON(t, r, "POST", "/v1/calls/call-h1/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ended", decode(t, w)["call"].(map[string]any)["status"])

	w = doJSON(t, r, "POST", "/v1/calls/call-h1/turns", greeting(3, "00:30"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "call_ended", decode(t, w)["error"])
}

func TestHandler_SubmitErrors(t *testing.T) {
	r, svc := setupTestRouter()
	_, err := svc.Start(t.Context(), StartRequest{CallID: "call-h2"})
	require.NoError(t, err)

	w := doJSON(t, r, "POST", "/v1/calls/call-h2/turns", greeting(2, "00:05"))
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "out_of_sequence", body["error"])
	assert.Equal(t, float64(1), body["expected"])
	assert.Equal(t, float64(2), body["got"])

	bad := greeting(1, "00:75")
	bad.Confidence = 1.5
	w = doJSON(t, r, "POST", "/v1/calls/call-h2/turns", bad)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body = decode(t, w)
	assert.Equal(t, "invalid_turn", body["error"])
	assert.Len(t, body["details"], 2)

	w = doJSON(t, r, "POST", "/v1/calls/call-h2/turns", "not a turn")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, "POST", "/v1/calls/missing/turns", greeting(1, "00:05"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, "GET", "/v1/calls/bad%20id/risk", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_StartErrors(t *testing.T) {
	r, _ := setupTestRouter()

	w := doJSON(t, r, "POST", "/v1/calls", StartRequest{CallID: "dup"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, r, "POST", "/v1/calls", StartRequest{CallID: "dup"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "call_exists", decode(t, w)["error"])

	w = doJSON(t, r, "POST", "/v1/calls", StartRequest{CallID: "has space"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_call_id", decode(t, w)["error"])
}

func TestHandler_ListCalls(t *testing.T) {
	r, svc := setupTestRouter()
	for _, id := range []string{"l1", "l2", "l3"} {
		_, err := svc.Start(t.Context(), StartRequest{CallID: id})
		require.NoError(t, err)
	}

	w := doJSON(t, r, "GET", "/v1/calls?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Calls      []Call `json:"calls"`
		NextCursor string `json:"nextCursor"`
		HasMore    bool   `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Calls, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "l3", page.Calls[0].CallID)

	w = doJSON(t, r, "GET", "/v1/calls?limit=2&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Calls, 1)
	assert.Equal(t, "l1", page.Calls[0].CallID)

	w = doJSON(t, r, "GET", "/v1/calls?cursor=%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, "GET", "/v1/calls?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "status: must be one of active, ended", decode(t, w)["message"])
}

func TestHandler_ListRules(t *testing.T) {
	r, _ := setupTestRouter()

	w := doJSON(t, r, "GET", "/v1/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(5), body["count"])

	first := body["rules"].([]any)[0].(map[string]any)
	assert.Equal(t, "missing_disclosure", first["id"])
	assert.Equal(t, "major", first["severity"])
	assert.Equal(t, "Escalate", first["suggestedAction"])
}

func TestHandler_SpeakerAliasAccepted(t *testing.T) {
	r, svc := setupTestRouter()
	_, err := svc.Start(t.Context(), StartRequest{CallID: "alias"})
	require.NoError(t, err)

	turn := greeting(1, "00:01")
	turn.Speaker = "Agent AI"
	turn.RuleTriggered = []string{"late_call"}
	w := doJSON(t, r, "POST", "/v1/calls/alias/turns", turn)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, "late_call", ev["rule"])
	assert.Equal(t, "QA flag", ev["suggestedAction"])
	assert.Equal(t, transcript.FormatClock(1), ev["time"])
}
