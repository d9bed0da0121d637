package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"ogacraft/api/internal/auth"
	"ogacraft/api/internal/config"
	"ogacraft/api/internal/realtime"
	"ogacraft/api/internal/session"
	"ogacraft/api/internal/store"
)

type fakeStore struct {
	createUserFn        func(context.Context, store.User) (store.User, error)
	getUserByEmailFn    func(context.Context, string) (store.User, error)
	getUserSummaryFn    func(context.Context, string) (store.UserSummary, error)
	updateUserProfileFn func(context.Context, string, store.ProfileUpdate) (store.User, error)
	listArtisansFn      func(context.Context, store.ArtisanFilter) ([]store.User, int, error)
	createJobFn         func(context.Context, store.Job) (store.Job, error)
	getJobFn            func(context.Context, string) (store.Job, error)
	listJobsFn          func(context.Context, store.JobFilter) ([]store.Job, int, error)
	updateJobFn         func(context.Context, string, store.JobUpdate) (store.Job, error)
	deleteJobFn         func(context.Context, string) (bool, error)
	assignJobArtisanFn  func(context.Context, string, string) (store.Job, error)
	appendJobImageFn    func(context.Context, string, string) (store.Job, error)
	createProposalFn    func(context.Context, store.Proposal) (store.Proposal, error)
	setProposalStatusFn func(context.Context, string, store.ProposalStatus, bool) (store.Proposal, bool, error)
	createMessageFn     func(context.Context, store.Message) (store.Message, error)
	listJobMessagesFn   func(context.Context, string, int, int) ([]store.MessageWithSender, int, error)
	pingFn              func(context.Context) error
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return user, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserSummary(ctx context.Context, userID string) (store.UserSummary, error) {
	if f.getUserSummaryFn != nil {
		return f.getUserSummaryFn(ctx, userID)
	}
	return store.UserSummary{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateUserProfile(ctx context.Context, email string, update store.ProfileUpdate) (store.User, error) {
	if f.updateUserProfileFn != nil {
		return f.updateUserProfileFn(ctx, email, update)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ListArtisans(ctx context.Context, filter store.ArtisanFilter) ([]store.User, int, error) {
	if f.listArtisansFn != nil {
		return f.listArtisansFn(ctx, filter)
	}
	return []store.User{}, 0, nil
}
func (f *fakeStore) CreateJob(ctx context.Context, job store.Job) (store.Job, error) {
	if f.createJobFn != nil {
		return f.createJobFn(ctx, job)
	}
	return job, nil
}
func (f *fakeStore) GetJob(ctx context.Context, jobID string) (store.Job, error) {
	if f.getJobFn != nil {
		return f.getJobFn(ctx, jobID)
	}
	return store.Job{}, sql.ErrNoRows
}
func (f *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]store.Job, int, error) {
	if f.listJobsFn != nil {
		return f.listJobsFn(ctx, filter)
	}
	return []store.Job{}, 0, nil
}
func (f *fakeStore) UpdateJob(ctx context.Context, jobID string, update store.JobUpdate) (store.Job, error) {
	if f.updateJobFn != nil {
		return f.updateJobFn(ctx, jobID, update)
	}
	return store.Job{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteJob(ctx context.Context, jobID string) (bool, error) {
	if f.deleteJobFn != nil {
		return f.deleteJobFn(ctx, jobID)
	}
	return false, nil
}
func (f *fakeStore) AssignJobArtisan(ctx context.Context, jobID, artisanID string) (store.Job, error) {
	if f.assignJobArtisanFn != nil {
		return f.assignJobArtisanFn(ctx, jobID, artisanID)
	}
	return store.Job{ID: jobID, Artisan: &artisanID, Status: store.JobOngoing}, nil
}
func (f *fakeStore) AppendJobImage(ctx context.Context, jobID, url string) (store.Job, error) {
	if f.appendJobImageFn != nil {
		return f.appendJobImageFn(ctx, jobID, url)
	}
	return store.Job{}, sql.ErrNoRows
}
func (f *fakeStore) CreateProposal(ctx context.Context, proposal store.Proposal) (store.Proposal, error) {
	if f.createProposalFn != nil {
		return f.createProposalFn(ctx, proposal)
	}
	return proposal, nil
}
func (f *fakeStore) SetProposalStatus(ctx context.Context, proposalID string, status store.ProposalStatus, onlyPending bool) (store.Proposal, bool, error) {
	if f.setProposalStatusFn != nil {
		return f.setProposalStatusFn(ctx, proposalID, status, onlyPending)
	}
	return store.Proposal{}, false, nil
}
func (f *fakeStore) CreateMessage(ctx context.Context, message store.Message) (store.Message, error) {
	if f.createMessageFn != nil {
		return f.createMessageFn(ctx, message)
	}
	return message, nil
}
func (f *fakeStore) ListJobMessages(ctx context.Context, jobID string, limit, offset int) ([]store.MessageWithSender, int, error) {
	if f.listJobMessagesFn != nil {
		return f.listJobMessagesFn(ctx, jobID, limit, offset)
	}
	return []store.MessageWithSender{}, 0, nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeVerifier struct {
	calls    int
	verifyFn func(string) (auth.Claims, error)
}

func (f *fakeVerifier) Verify(token string) (auth.Claims, error) {
	f.calls++
	if f.verifyFn != nil {
		return f.verifyFn(token)
	}
	if token != "good-token" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return auth.Claims{Subject: "did:privy:user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestService(fs dataStore) *Service {
	hub := realtime.NewHub(realtime.NewPresence(), realtime.NewRooms(), zerolog.Nop())
	return &Service{
		cfg:      config.Config{MaxUploadBytes: 1 << 20},
		store:    fs,
		hub:      hub,
		verifier: &fakeVerifier{},
		logger:   zerolog.Nop(),
	}
}

func expectDomainError(t *testing.T, err error, status int) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError with status %d, got %v", status, err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Message)
	}
	return domainErr
}

func TestRegisterReturnsExistingUser(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: "usr-1", Email: email, AccountType: store.AccountArtisan}, nil
		},
		createUserFn: func(context.Context, store.User) (store.User, error) {
			t.Fatal("existing users must not be recreated")
			return store.User{}, nil
		},
	}
	svc := newTestService(fs)

	user, created, err := svc.Register(context.Background(), RegisterInput{Email: "ada@example.com"}, "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if created || user.ID != "usr-1" {
		t.Fatalf("expected existing user, got created=%v user=%+v", created, user)
	}
}

func TestRegisterCreatesClient(t *testing.T) {
	var saved store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			saved = user
			return user, nil
		},
	}
	svc := newTestService(fs)

	user, created, err := svc.Register(context.Background(), RegisterInput{
		Email:     " ada@example.com ",
		Gender:    "x",
		FirstName: "Ada",
	}, "did:privy:1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !created {
		t.Fatal("expected a new user")
	}
	if saved.AccountType != store.AccountClient || saved.Email != "ada@example.com" || saved.AuthID != "did:privy:1" {
		t.Fatalf("unexpected saved user %+v", saved)
	}
	if saved.Gender != "" {
		t.Fatalf("unknown gender should be dropped, got %q", saved.Gender)
	}
	if user.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestRegisterRequiresEmail(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, _, err := svc.Register(context.Background(), RegisterInput{}, "")
	expectDomainError(t, err, http.StatusConflict)
}

func TestFetchUserUnknownIsConflict(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.FetchUser(context.Background(), "nobody@example.com")
	expectDomainError(t, err, http.StatusConflict)
}

func TestUpdateProfileMapsFields(t *testing.T) {
	var got store.ProfileUpdate
	fs := &fakeStore{
		updateUserProfileFn: func(_ context.Context, email string, update store.ProfileUpdate) (store.User, error) {
			got = update
			return store.User{Email: email}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateProfile(context.Background(), "ada@example.com", ProfileInput{
		FirstName:         "Ada",
		Bio:               "Builds things",
		Gender:            "f",
		Categories:        "plumbing, roofing",
		YearsOfExperience: "7",
		AccountType:       "craftsman",
	})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if got.FirstName == nil || *got.FirstName != "Ada" {
		t.Fatalf("expected first name, got %+v", got.FirstName)
	}
	if got.ProfileDescription == nil || *got.ProfileDescription != "Builds things" {
		t.Fatal("expected bio to map to profile description")
	}
	if got.LastName != nil {
		t.Fatal("empty fields must stay unchanged")
	}
	if got.Gender == nil || *got.Gender != "f" {
		t.Fatal("expected gender")
	}
	if len(got.Categories) != 2 || got.Categories[1] != "roofing" {
		t.Fatalf("unexpected categories %v", got.Categories)
	}
	if got.YearsOfExperience == nil || *got.YearsOfExperience != 7 {
		t.Fatal("expected years of experience")
	}
	if got.AccountType != nil {
		t.Fatal("unknown account type must be ignored")
	}
}

func TestUpdateProfileRejectsInvalidCategory(t *testing.T) {
	fs := &fakeStore{
		updateUserProfileFn: func(context.Context, string, store.ProfileUpdate) (store.User, error) {
			t.Fatal("store must not be called")
			return store.User{}, nil
		},
	}
	svc := newTestService(fs)
	_, err := svc.UpdateProfile(context.Background(), "ada@example.com", ProfileInput{Categories: "plumbing,juggling"})
	domainErr := expectDomainError(t, err, http.StatusConflict)
	if domainErr.Message != "Invalid category: juggling" {
		t.Fatalf("unexpected message %q", domainErr.Message)
	}
}

func TestUpdateProfileUnknownUser(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.UpdateProfile(context.Background(), "ghost@example.com", ProfileInput{FirstName: "G"})
	expectDomainError(t, err, http.StatusNotFound)
}

func TestCreateJobValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, CreateJobInput{Description: "Fix sink", Location: "Lagos", Categories: "plumbing"})
	expectDomainError(t, err, http.StatusBadRequest)

	_, err = svc.CreateJob(ctx, CreateJobInput{Description: "Fix sink", Location: "Lagos", Budget: "100", Categories: "plumbing,astrology"})
	domainErr := expectDomainError(t, err, http.StatusBadRequest)
	invalid, _ := domainErr.Details.([]string)
	if len(invalid) != 1 || invalid[0] != "astrology" {
		t.Fatalf("expected invalid categories in details, got %v", domainErr.Details)
	}

	job, err := svc.CreateJob(ctx, CreateJobInput{Description: "Fix sink", Location: "Lagos", Budget: "100", Categories: "plumbing"})
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if job.Status != store.JobOpen || job.ID == "" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestUpdateJobRequiresCategories(t *testing.T) {
	svc := newTestService(&fakeStore{})
	description := "new"
	_, err := svc.UpdateJob(context.Background(), "job-1", UpdateJobInput{Description: &description})
	expectDomainError(t, err, http.StatusBadRequest)

	categories := "tiling"
	_, err = svc.UpdateJob(context.Background(), "job-1", UpdateJobInput{Categories: &categories})
	expectDomainError(t, err, http.StatusNotFound)
}

func TestDeleteJobNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	err := svc.DeleteJob(context.Background(), "missing")
	expectDomainError(t, err, http.StatusNotFound)
}

func TestAddJobImageWithoutStorage(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.AddJobImage(context.Background(), "job-1", "image/png", nil, 0)
	expectDomainError(t, err, http.StatusServiceUnavailable)
}

func TestVerifyTokenUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := session.NewRedisStore("redis://"+mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer cache.Close()

	verifier := &fakeVerifier{}
	svc := newTestService(&fakeStore{})
	svc.verifier = verifier
	svc.tokens = cache

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		claims, err := svc.VerifyToken(ctx, "good-token")
		if err != nil {
			t.Fatalf("VerifyToken() error = %v", err)
		}
		if claims.Subject != "did:privy:user-1" {
			t.Fatalf("unexpected subject %q", claims.Subject)
		}
	}
	if verifier.calls != 1 {
		t.Fatalf("expected one signature check, got %d", verifier.calls)
	}

	if _, err := svc.VerifyToken(ctx, "bad-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyTokenWithoutVerifier(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.verifier = nil
	_, err := svc.VerifyToken(context.Background(), "anything")
	expectDomainError(t, err, http.StatusServiceUnavailable)
}

func TestPingReportsDependencies(t *testing.T) {
	svc := newTestService(&fakeStore{pingFn: func(context.Context) error { return errors.New("down") }})
	checks := svc.Ping(context.Background())
	if checks["database"] == nil {
		t.Fatal("expected database error")
	}
	if _, ok := checks["redis"]; ok {
		t.Fatal("redis check should be absent when no cache is configured")
	}
}
