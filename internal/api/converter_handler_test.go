package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsnebula/converter-api/internal/api/middleware"
	"github.com/fsnebula/converter-api/internal/api/shared"
	"github.com/fsnebula/converter-api/internal/broker"
	"github.com/fsnebula/converter-api/internal/task"
)

const testAPIKey = "valid-api-key-123"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type apiFixture struct {
	store  *task.Store
	queue  *task.Queue
	router chi.Router
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	m := broker.NewMemory()
	f := &apiFixture{
		store: task.NewStore(m),
		queue: task.NewQueue(m),
	}
	svc := task.NewService(f.store, f.queue, testLogger())
	h := NewConverterHandler(svc, f.store, nil, time.Hour, testLogger())

	f.router = chi.NewRouter()
	f.router.Use(shared.TraceMiddleware)
	h.Register(f.router, middleware.APIKeyAuth([]string{testAPIKey}))
	return f
}

func (f *apiFixture) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) submit(t *testing.T) (int64, string) {
	t.Helper()

	rec := f.postForm("/api/converter/request", url.Values{
		"passwd": {testAPIKey},
		"data":   {`{"id":"scp","title":"SCP","version":"1.0"}`},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Ticket)
	require.NotNil(t, resp.Token)
	return *resp.Ticket, *resp.Token
}

func TestSubmitCreatesTicketAndEnqueues(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ticket, token := f.submit(t)

	assert.Len(t, token, 30)

	st, err := f.store.Status(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, task.StateWaiting, st.State)

	env, ok, err := f.queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ticket, env.Ticket)
	assert.Equal(t, task.TypeConverter, env.Type)

	var args task.ConverterArgs
	require.NoError(t, json.Unmarshal(env.Args, &args))
	assert.Equal(t, token, args.Token)
}

func TestSubmitRejectsInvalidKey(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.postForm("/api/converter/request", url.Values{
		"passwd": {"wrong"},
		"data":   {`{}`},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitRejectsInvalidJSONWithoutCreatingTicket(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.postForm("/api/converter/request", url.Values{
		"passwd": {testAPIKey},
		"data":   {`{broken`},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket":null,"token":null,"error":true}`, rec.Body.String())

	// No ticket was created.
	_, ok, err := f.queue.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ticket, _ := f.submit(t)

	rec := f.get("/api/converter/get_status/" + jsonNumber(ticket))
	require.Equal(t, http.StatusOK, rec.Code)

	var st task.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, task.StateWaiting, st.State)

	rec = f.get("/api/converter/get_status/99999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.get("/api/converter/get_status/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveUnknownTicket(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.postForm("/api/converter/retrieve", url.Values{
		"ticket": {"404"},
		"token":  {"whatever"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"json":null,"success":false,"finished":true,"found":false}`, rec.Body.String())
}

func TestRetrievePendingTicket(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ticket, token := f.submit(t)

	rec := f.postForm("/api/converter/retrieve", url.Values{
		"ticket": {jsonNumber(ticket)},
		"token":  {token},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"json":null,"success":false,"finished":false,"found":true}`, rec.Body.String())
}

func TestRetrieveRejectsWrongToken(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ticket, _ := f.submit(t)
	require.NoError(t, f.store.SaveResult(context.Background(), ticket,
		task.Result{Payload: json.RawMessage(`{}`), Success: true, Token: "the-real-token"}))

	rec := f.postForm("/api/converter/retrieve", url.Values{
		"ticket": {jsonNumber(ticket)},
		"token":  {"stolen"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The result survives a failed retrieval.
	ok, err := f.store.HasResult(context.Background(), ticket)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetrieveIsOneShot(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	ticket, token := f.submit(t)
	require.NoError(t, f.store.SaveResult(context.Background(), ticket,
		task.Result{Payload: json.RawMessage(`{"mods":[]}`), Success: true, Token: token}))

	form := url.Values{"ticket": {jsonNumber(ticket)}, "token": {token}}
	rec := f.postForm("/api/converter/retrieve", form)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RetrieveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.True(t, resp.Finished)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"mods":[]}`, string(resp.Payload))

	// Everything about the ticket is gone now.
	rec = f.postForm("/api/converter/retrieve", form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"json":null,"success":false,"finished":true,"found":false}`, rec.Body.String())
}

func TestListTasks(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	a, _ := f.submit(t)
	b, _ := f.submit(t)

	rec := f.get("/api/list_tasks")
	require.Equal(t, http.StatusOK, rec.Code)

	var listing map[string]task.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing, 2)
	assert.Contains(t, listing, jsonNumber(a))
	assert.Contains(t, listing, jsonNumber(b))
}

func jsonNumber(n int64) string {
	return strconv.FormatInt(n, 10)
}
