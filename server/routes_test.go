package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// demoRows builds one arm-raise keypoint frame as COCO-ordered rows.
func demoRows(lift float64) [][]float64 {
	rows := [][]float64{
		{100, 40, 0.9}, {95, 35, 0.9}, {105, 35, 0.9}, {90, 38, 0.9}, {110, 38, 0.9},
		{80, 80, 0.9}, {120, 80, 0.9},
		{70 - 10*lift, 120 - 80*lift, 0.9}, {130 + 10*lift, 120 - 80*lift, 0.9},
		{65 - 15*lift, 160 - 150*lift, 0.9}, {135 + 15*lift, 160 - 150*lift, 0.9},
		{85, 170, 0.9}, {115, 170, 0.9},
		{85, 240, 0.9}, {115, 240, 0.9},
		{85, 310, 0.9}, {115, 310, 0.9},
	}
	return rows
}

func demoFrames(reps, period int) [][][]float64 {
	var frames [][][]float64
	for i := 0; i < reps*period; i++ {
		phase := 2 * math.Pi * float64(i%period) / float64(period)
		frames = append(frames, demoRows((1-math.Cos(phase))/2))
	}
	return frames
}

func testServer() (*Server, *gin.Engine) {
	s := New(store.NewMemory(), nil)
	return s, s.Routes()
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func finalizeDemo(t *testing.T, r *gin.Engine, actionID string) {
	t.Helper()
	body := map[string]any{
		"samples": []map[string]any{{"frames": demoFrames(3, 30)}},
	}
	w := doJSON(r, http.MethodPost, "/api/actions/"+actionID+"/finalize", body)
	require.Equalf(t, http.StatusOK, w.Code, "finalize: %s", w.Body.String())
}

func createSession(t *testing.T, r *gin.Engine, actionID string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/sessions", map[string]any{"action_id": actionID})
	require.Equalf(t, http.StatusOK, w.Code, "create session: %s", w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestHealthz(t *testing.T) {
	_, r := testServer()
	w := doJSON(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFinalize_ThenSetupAndInfer(t *testing.T) {
	// GIVEN a finalized action
	_, r := testServer()
	finalizeDemo(t, r, "arm-raise")

	// WHEN a session is opened and frames are streamed
	token := createSession(t, r, "arm-raise")
	var last struct {
		State string  `json:"state"`
		Reps  int     `json:"reps"`
		Dist  float64 `json:"distance"`
	}
	for _, rows := range demoFrames(3, 30) {
		w := doJSON(r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/frames", token),
			map[string]any{"keypoints": rows})
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
		assert.Contains(t, []string{"OUT", "IN"}, last.State)
		assert.GreaterOrEqual(t, last.Reps, 0)
	}

	// THEN status reflects the processed stream
	w := doJSON(r, http.MethodGet, fmt.Sprintf("/api/sessions/%s/status", token), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Initialized)
	assert.Equal(t, 90, status.FramesProcessed)
}

func TestFinalize_RejectsMalformedBody(t *testing.T) {
	_, r := testServer()
	req := httptest.NewRequest(http.MethodPost, "/api/actions/x/finalize", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFinalize_InsufficientData(t *testing.T) {
	_, r := testServer()
	w := doJSON(r, http.MethodPost, "/api/actions/x/finalize", map[string]any{
		"samples": []map[string]any{{"frames": demoFrames(1, 10)}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestFinalize_FailureKeepsPreviousArtifact(t *testing.T) {
	// GIVEN a successfully finalized action
	s, r := testServer()
	finalizeDemo(t, r, "arm-raise")

	// WHEN a second finalize with insufficient data fails
	w := doJSON(r, http.MethodPost, "/api/actions/arm-raise/finalize", map[string]any{
		"samples": []map[string]any{{"frames": demoFrames(1, 5)}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// THEN the previous artifact is still served
	artifact, err := s.store.Get(context.Background(), "arm-raise")
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.Templates)
}

func TestCreateSession_UnknownAction(t *testing.T) {
	_, r := testServer()
	w := doJSON(r, http.MethodPost, "/api/sessions", map[string]any{"action_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSession_MissingActionID(t *testing.T) {
	_, r := testServer()
	w := doJSON(r, http.MethodPost, "/api/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInfer_UnknownSessionReturnsNotInitialized(t *testing.T) {
	_, r := testServer()
	w := doJSON(r, http.MethodPost, "/api/sessions/ghost/frames",
		map[string]any{"keypoints": demoRows(0)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp struct {
		State string  `json:"state"`
		Reps  int     `json:"reps"`
		Dist  float64 `json:"distance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OUT", resp.State)
	assert.Equal(t, 0, resp.Reps)
	assert.Equal(t, 999999.0, resp.Dist)
}

func TestReset_RoundTrip(t *testing.T) {
	// GIVEN a session with processed frames
	_, r := testServer()
	finalizeDemo(t, r, "arm-raise")
	token := createSession(t, r, "arm-raise")
	for _, rows := range demoFrames(1, 30) {
		doJSON(r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/frames", token),
			map[string]any{"keypoints": rows})
	}

	// WHEN reset
	w := doJSON(r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/reset", token), nil)
	require.Equal(t, http.StatusOK, w.Code)

	// THEN the session reads as fresh
	w = doJSON(r, http.MethodGet, fmt.Sprintf("/api/sessions/%s/status", token), nil)
	var status engine.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, engine.StateOut, status.State)
	assert.Equal(t, 0, status.Reps)
	assert.Equal(t, 0, status.FramesProcessed)
}

func TestDeleteSession(t *testing.T) {
	_, r := testServer()
	finalizeDemo(t, r, "arm-raise")
	token := createSession(t, r, "arm-raise")

	w := doJSON(r, http.MethodDelete, "/api/sessions/"+token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/sessions/"+token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInfer_FeatureVectorPath(t *testing.T) {
	_, r := testServer()
	finalizeDemo(t, r, "arm-raise")
	token := createSession(t, r, "arm-raise")

	// A wrong-length feature vector is an input shape error.
	w := doJSON(r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/frames", token),
		map[string]any{"features": []float64{1, 2, 3}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A correctly sized vector is accepted.
	w = doJSON(r, http.MethodPost, fmt.Sprintf("/api/sessions/%s/frames", token),
		map[string]any{"features": make([]float64, 64)})
	assert.Equal(t, http.StatusOK, w.Code)
}
