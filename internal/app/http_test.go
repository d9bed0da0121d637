package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"ogacraft/api/internal/search"
	"ogacraft/api/internal/store"
)

type envelope struct {
	Status   string          `json:"status"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Response json.RawMessage `json:"response"`
}

type fakeSearch struct {
	query   search.Query
	indexed []search.JobRecord
	deleted []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.query = q
	return search.Response{
		Results: []search.Result{{ID: "job-1", Title: "Fix sink", Categories: []string{"plumbing"}}},
		Total:   1,
		Query:   q.Text,
	}
}

func (f *fakeSearch) IndexJob(job search.JobRecord) { f.indexed = append(f.indexed, job) }

func (f *fakeSearch) DeleteJob(id string) { f.deleted = append(f.deleted, id) }

func newTestHandler(svc *Service) http.Handler {
	return NewHTTPServer(svc, nil, zerolog.Nop()).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func registeredUserStore() *fakeStore {
	return &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email != "ada@example.com" {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "usr-1", Email: email, AccountType: store.AccountClient}, nil
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(newTestService(&fakeStore{}))
	rec, _ := doRequest(t, h, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{pingFn: func(context.Context) error { return errors.New("down") }}
	h := newTestHandler(newTestService(fs))

	rec, _ := doRequest(t, h, http.MethodGet, "/api/ready", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"database"`) {
		t.Fatalf("expected database check in body: %s", rec.Body.String())
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	h := newTestHandler(newTestService(&fakeStore{}))
	rec, env := doRequest(t, h, http.MethodGet, "/api/query/categories", nil, nil)
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected response %d %+v", rec.Code, env)
	}
	var categories []string
	if err := json.Unmarshal(env.Response, &categories); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(categories) != len(store.Categories) {
		t.Fatalf("expected %d categories, got %d", len(store.Categories), len(categories))
	}
}

func TestRegisterEndpoint(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			created = user
			return user, nil
		},
	}
	h := newTestHandler(newTestService(fs))

	rec, env := doRequest(t, h, http.MethodPost, "/api/auth", map[string]string{"email": "new@example.com"},
		map[string]string{"Authorization": "Bearer good-token"})
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("unexpected response %d %+v", rec.Code, env)
	}
	if created.Email != "new@example.com" || created.AccountType != store.AccountClient {
		t.Fatalf("unexpected created user %+v", created)
	}
	if created.AuthID != "did:privy:user-1" {
		t.Fatalf("expected auth id from token, got %q", created.AuthID)
	}

	rec, env = doRequest(t, h, http.MethodPost, "/api/auth", map[string]string{}, nil)
	if rec.Code != http.StatusConflict || env.Status != "fail" {
		t.Fatalf("expected 409 fail without email, got %d %+v", rec.Code, env)
	}
}

func TestFetchUnknownUser(t *testing.T) {
	h := newTestHandler(newTestService(&fakeStore{}))
	rec, env := doRequest(t, h, http.MethodGet, "/api/auth/fetch/ghost@example.com", nil, nil)
	if rec.Code != http.StatusConflict || env.Code != "AUTH_FAILED" {
		t.Fatalf("expected 409 AUTH_FAILED, got %d %+v", rec.Code, env)
	}
}

func TestUpdateProfileRequiresToken(t *testing.T) {
	h := newTestHandler(newTestService(registeredUserStore()))
	rec, _ := doRequest(t, h, http.MethodPut, "/api/auth/update-profile", map[string]string{"email": "ada@example.com"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without token, got %d", rec.Code)
	}

	rec, _ = doRequest(t, h, http.MethodPut, "/api/auth/update-profile", map[string]string{"email": "ada@example.com"},
		map[string]string{"Authorization": "Bearer bad-token"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for bad token, got %d", rec.Code)
	}
}

func TestUpdateProfileQueryParams(t *testing.T) {
	fs := registeredUserStore()
	var got store.ProfileUpdate
	fs.updateUserProfileFn = func(_ context.Context, email string, update store.ProfileUpdate) (store.User, error) {
		got = update
		return store.User{Email: email}, nil
	}
	h := newTestHandler(newTestService(fs))

	rec, env := doRequest(t, h, http.MethodPut, "/api/auth/update-profile?first_name=Ada&categories=plumbing,welding&account_type=artisan",
		map[string]string{"email": "ada@example.com"}, map[string]string{"Authorization": "Bearer good-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %+v", rec.Code, env)
	}
	if got.FirstName == nil || *got.FirstName != "Ada" {
		t.Fatalf("expected first name update, got %+v", got.FirstName)
	}
	if len(got.Categories) != 2 || got.AccountType == nil || *got.AccountType != store.AccountArtisan {
		t.Fatalf("unexpected update %+v", got)
	}
}

func TestCreateJobEndpoint(t *testing.T) {
	fs := registeredUserStore()
	var saved store.Job
	fs.createJobFn = func(_ context.Context, job store.Job) (store.Job, error) {
		saved = job
		return job, nil
	}
	h := newTestHandler(newTestService(fs))
	headers := map[string]string{"Authorization": "Bearer good-token"}

	body := map[string]any{
		"email":       "ada@example.com",
		"client":      "usr-1",
		"description": "Leaking kitchen sink",
		"location":    "Lagos",
		"budget":      "20000",
		"categories":  "plumbing",
	}
	rec, env := doRequest(t, h, http.MethodPost, "/api/jobs", body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %+v", rec.Code, env)
	}
	if saved.Status != store.JobOpen || saved.Client != "usr-1" || len(saved.Categories) != 1 {
		t.Fatalf("unexpected saved job %+v", saved)
	}

	body["email"] = "ghost@example.com"
	rec, _ = doRequest(t, h, http.MethodPost, "/api/jobs", body, headers)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unregistered user, got %d", rec.Code)
	}

	body["email"] = "ada@example.com"
	body["categories"] = "plumbing,juggling"
	rec, env = doRequest(t, h, http.MethodPost, "/api/jobs", body, headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid category, got %d", rec.Code)
	}
	if !strings.Contains(string(env.Response), "juggling") {
		t.Fatalf("expected invalid entries in response, got %s", env.Response)
	}
}

func TestListJobsPagination(t *testing.T) {
	var filter store.JobFilter
	fs := &fakeStore{
		listJobsFn: func(_ context.Context, f store.JobFilter) ([]store.Job, int, error) {
			filter = f
			return []store.Job{{ID: "job-1"}}, 25, nil
		},
	}
	h := newTestHandler(newTestService(fs))

	rec, env := doRequest(t, h, http.MethodGet, "/api/jobs?page=2&limit=10&location=lagos&categories=plumbing&status=Ongoing", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if filter.Status != store.JobOngoing {
		t.Fatalf("expected ongoing status filter, got %q", filter.Status)
	}
	if filter.Offset != 10 || filter.Limit != 10 || filter.Location != "lagos" || len(filter.Categories) != 1 {
		t.Fatalf("unexpected filter %+v", filter)
	}
	var payload struct {
		Jobs       []store.Job    `json:"jobs"`
		Pagination map[string]int `json:"pagination"`
	}
	if err := json.Unmarshal(env.Response, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Pagination["pages"] != 3 || payload.Pagination["total"] != 25 || payload.Pagination["page"] != 2 {
		t.Fatalf("unexpected pagination %v", payload.Pagination)
	}
}

func TestListJobsFreeTextSearch(t *testing.T) {
	svc := newTestService(&fakeStore{
		listJobsFn: func(context.Context, store.JobFilter) ([]store.Job, int, error) {
			t.Fatal("free-text queries must go through search")
			return nil, 0, nil
		},
	})
	searcher := &fakeSearch{}
	svc.search = searcher
	h := newTestHandler(svc)

	rec, env := doRequest(t, h, http.MethodGet, "/api/jobs?q=sink&categories=plumbing&location=Lagos&status=open", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if searcher.query.Text != "sink" || len(searcher.query.Categories) != 1 {
		t.Fatalf("unexpected search query %+v", searcher.query)
	}
	if searcher.query.Location != "Lagos" || searcher.query.Status != "open" {
		t.Fatalf("expected location and status to reach search, got %+v", searcher.query)
	}
	if !strings.Contains(string(env.Response), "job-1") {
		t.Fatalf("expected search results, got %s", env.Response)
	}
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})
	searcher := &fakeSearch{}
	svc.search = searcher
	h := newTestHandler(svc)

	for _, target := range []string{"/api/jobs?status=archived", "/api/jobs?q=sink&status=archived"} {
		rec, env := doRequest(t, h, http.MethodGet, target, nil, nil)
		if rec.Code != http.StatusBadRequest || env.Code != "VALIDATION_ERROR" {
			t.Fatalf("%s: expected 400 VALIDATION_ERROR, got %d %+v", target, rec.Code, env)
		}
	}
	if searcher.query.Text != "" {
		t.Fatal("invalid status must not reach search")
	}
}

func TestGetJobNotFound(t *testing.T) {
	h := newTestHandler(newTestService(&fakeStore{}))
	rec, env := doRequest(t, h, http.MethodGet, "/api/jobs/missing", nil, nil)
	if rec.Code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected 404 fail, got %d %+v", rec.Code, env)
	}
}

func TestDeleteJobRemovesFromSearch(t *testing.T) {
	svc := newTestService(&fakeStore{
		deleteJobFn: func(context.Context, string) (bool, error) { return true, nil },
	})
	searcher := &fakeSearch{}
	svc.search = searcher
	h := newTestHandler(svc)

	rec, _ := doRequest(t, h, http.MethodDelete, "/api/jobs/job-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(searcher.deleted) != 1 || searcher.deleted[0] != "job-1" {
		t.Fatalf("expected job-1 removed from index, got %v", searcher.deleted)
	}
}

func TestListMessagesDefaultLimit(t *testing.T) {
	var gotLimit, gotOffset int
	fs := &fakeStore{
		listJobMessagesFn: func(_ context.Context, jobID string, limit, offset int) ([]store.MessageWithSender, int, error) {
			gotLimit, gotOffset = limit, offset
			return []store.MessageWithSender{{Message: store.Message{ID: "msg-1", JobID: jobID}}}, 1, nil
		},
	}
	h := newTestHandler(newTestService(fs))

	rec, _ := doRequest(t, h, http.MethodGet, "/api/messages/j1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotLimit != 20 || gotOffset != 0 {
		t.Fatalf("expected limit 20 offset 0, got %d %d", gotLimit, gotOffset)
	}
}

func TestUploadImageWithoutStorage(t *testing.T) {
	h := newTestHandler(newTestService(&fakeStore{}))

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("not really a png"))
	_ = form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/images", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(newTestService(&fakeStore{}))
	rec, env := doRequest(t, h, http.MethodGet, "/api/nope", nil, nil)
	if rec.Code != http.StatusNotFound || env.Code != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %+v", rec.Code, env)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic dXNlcjpw": "",
		"Bearer":         "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := bearerToken(req); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestCreateJobDefaultsClientToRegisteredUser(t *testing.T) {
	fs := registeredUserStore()
	var saved store.Job
	fs.createJobFn = func(_ context.Context, job store.Job) (store.Job, error) {
		saved = job
		return job, nil
	}
	h := newTestHandler(newTestService(fs))

	body := map[string]any{
		"email":       "ada@example.com",
		"description": "Paint the fence",
		"location":    "Abuja",
		"budget":      "5000",
		"categories":  "painting",
	}
	rec, _ := doRequest(t, h, http.MethodPost, "/api/jobs", body, map[string]string{"Authorization": "Bearer good-token"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if saved.Client != "usr-1" {
		t.Fatalf("expected client from registered user, got %q", saved.Client)
	}

	body["client"] = "usr-other"
	doRequest(t, h, http.MethodPost, "/api/jobs", body, map[string]string{"Authorization": "Bearer good-token"})
	if saved.Client != "usr-other" {
		t.Fatalf("explicit client must be kept, got %q", saved.Client)
	}
}

func TestRegisteredUserBodyTooLarge(t *testing.T) {
	fs := registeredUserStore()
	fs.createJobFn = func(context.Context, store.Job) (store.Job, error) {
		t.Fatal("oversized body must not reach the handler")
		return store.Job{}, nil
	}
	h := newTestHandler(newTestService(fs))

	padding := strings.Repeat("x", maxAuthBodyBytes)
	raw := `{"email":"ada@example.com","description":"` + padding + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.Code != "TOO_LARGE" || env.Status != "fail" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
