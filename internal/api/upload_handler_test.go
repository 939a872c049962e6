package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsnebula/converter-api/internal/api/shared"
	"github.com/fsnebula/converter-api/internal/mirror"
)

func newUploadFixture(t *testing.T) (*mirror.Store, chi.Router) {
	t.Helper()

	m, err := mirror.New(mirror.Config{
		Root:        t.TempDir(),
		BaseURL:     "https://mirror.example/dl",
		Secret:      "a-signing-secret-long-enough",
		KeyCount:    2,
		AllowedExts: []string{"vp"},
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(shared.TraceMiddleware)
	NewUploadHandler(m, testLogger()).Register(r)
	return m, r
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadPath(m *mirror.Store, index int, expiry time.Time) string {
	return "/api/upload/" + strconv.Itoa(index) + "/" +
		strconv.FormatInt(expiry.Unix(), 10) + "/" + m.Sign(index, expiry)
}

func TestUploadStoresSignedDrop(t *testing.T) {
	t.Parallel()

	m, router := newUploadFixture(t)
	body, contentType := multipartBody(t, "archive.vp", []byte("vp bytes"))

	req := httptest.NewRequest(http.MethodPost, uploadPath(m, 1, time.Now().Add(time.Hour)), body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Duplicate)
	assert.NotEmpty(t, resp.Path)
	assert.Contains(t, resp.URL, "https://mirror.example/dl/")
}

func TestUploadRejectsBadSignature(t *testing.T) {
	t.Parallel()

	_, router := newUploadFixture(t)
	body, contentType := multipartBody(t, "archive.vp", []byte("x"))

	expiry := time.Now().Add(time.Hour).Unix()
	req := httptest.NewRequest(http.MethodPost,
		"/api/upload/1/"+strconv.FormatInt(expiry, 10)+"/deadbeef", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadRejectsExpiredPath(t *testing.T) {
	t.Parallel()

	m, router := newUploadFixture(t)
	body, contentType := multipartBody(t, "archive.vp", []byte("x"))

	req := httptest.NewRequest(http.MethodPost, uploadPath(m, 1, time.Now().Add(-time.Minute)), body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	t.Parallel()

	m, router := newUploadFixture(t)
	body, contentType := multipartBody(t, "payload.exe", []byte("x"))

	req := httptest.NewRequest(http.MethodPost, uploadPath(m, 0, time.Now().Add(time.Hour)), body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRequiresFile(t *testing.T) {
	t.Parallel()

	m, router := newUploadFixture(t)

	req := httptest.NewRequest(http.MethodPost, uploadPath(m, 0, time.Now().Add(time.Hour)), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
