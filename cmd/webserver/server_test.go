package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lecturequiz"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := lecturequiz.OpenDB(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.CreateTables())
	t.Cleanup(func() { db.CloseDB() })

	pipeline := lecturequiz.NewQuizPipeline(lecturequiz.PipelineConfig{Store: db, QuestionCount: 6})
	s := &Server{
		pipeline:       pipeline,
		sessions:       sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef")),
		logger:         lecturequiz.NopLogger(),
		maxUploadBytes: 1 << 20,
	}
	return &testServer{t: t, router: s.Router(prometheus.NewRegistry())}
}

func (ts *testServer) do(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doJSON(method, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req, cookies)
}

func (ts *testServer) login(owner string) []*http.Cookie {
	rec := ts.doJSON(http.MethodPost, "/api/session", gin.H{"owner_id": owner, "owner_name": strings.ToUpper(owner)}, nil)
	require.Equal(ts.t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(ts.t, cookies)
	return cookies
}

func (ts *testServer) upload(filename string, content []byte, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(ts.t, err)
	_, err = fw.Write(content)
	require.NoError(ts.t, err)
	require.NoError(ts.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/quizzes", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(req, cookies)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, v))
}

func slideDeck(t *testing.T, sentences ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i, s := range sentences {
		w, err := zw.Create(fmt.Sprintf("ppt/slides/slide%d.xml", i+1))
		require.NoError(t, err)
		fmt.Fprintf(w, `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`, s)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func lectureSlides(t *testing.T) []byte {
	return slideDeck(t,
		"A binary heap stores the smallest element at the root of a complete binary tree.",
		"Hash tables resolve collisions with separate chaining or with open addressing.",
		"Breadth first search explores a graph level by level using a queue of vertices.",
		"Dynamic programming stores solutions to overlapping subproblems so each is solved once.",
	)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lecturequiz_http_requests_total")
}

func TestQuizRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.doJSON(http.MethodGet, "/api/quizzes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.doJSON(http.MethodPost, "/api/session", gin.H{"owner_name": "nobody"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuizLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login("alice")

	rec := ts.upload("week1.pptx", lectureSlides(t), alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var quiz lecturequiz.Quiz
	decodeData(t, rec, &quiz)
	assert.Equal(t, "alice", quiz.OwnerID)
	assert.Equal(t, "ALICE", quiz.OwnerName)
	assert.Equal(t, 6, quiz.TotalQuestions)

	rec = ts.doJSON(http.MethodGet, "/api/quizzes/"+quiz.ID, nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "expected_answer")
	var taking struct {
		Questions []questionView `json:"questions"`
	}
	decodeData(t, rec, &taking)
	require.Len(t, taking.Questions, 6)
	assert.Equal(t, 1, taking.Questions[0].Number)

	rec = ts.doJSON(http.MethodGet, "/api/quizzes/"+quiz.ID+"/result", nil, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.doJSON(http.MethodPost, "/api/quizzes/"+quiz.ID+"/start", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)

	seconds := 75
	rec = ts.doJSON(http.MethodPost, "/api/quizzes/"+quiz.ID+"/submit",
		gin.H{"answers": map[int]string{1: "something"}, "time_taken_seconds": seconds}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result lecturequiz.Result
	decodeData(t, rec, &result)
	assert.Equal(t, "1:15", result.TimeTaken)
	require.Len(t, result.Review, 6)
	assert.Equal(t, "no answer provided", result.Review[5].Reason)

	rec = ts.doJSON(http.MethodPost, "/api/quizzes/"+quiz.ID+"/submit", gin.H{"answers": map[int]string{}}, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.doJSON(http.MethodGet, "/api/quizzes/"+quiz.ID+"/result", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "correct_answer")

	rec = ts.doJSON(http.MethodPost, "/api/quizzes/"+quiz.ID+"/reset", nil, alice)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.doJSON(http.MethodPost, "/api/quizzes/"+quiz.ID+"/regenerate", nil, alice)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.doJSON(http.MethodGet, "/api/quizzes", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int `json:"total"`
	}
	decodeData(t, rec, &list)
	assert.Equal(t, 1, list.Total)

	bob := ts.login("bob")
	rec = ts.doJSON(http.MethodGet, "/api/quizzes/"+quiz.ID, nil, bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.doJSON(http.MethodPost, "/api/quizzes/"+quiz.ID+"/reset", nil, bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login("alice")

	rec := ts.doJSON(http.MethodPost, "/api/quizzes", nil, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.upload("notes.pdf", []byte("not really a pdf"), alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = ts.upload("huge.pdf", bytes.Repeat([]byte("x"), 2<<20), alice)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = ts.doJSON(http.MethodGet, "/api/quizzes/does-not-exist", nil, alice)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutClearsSession(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.login("alice")

	rec := ts.doJSON(http.MethodDelete, "/api/session", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := rec.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.True(t, cleared[0].MaxAge < 0)
}
