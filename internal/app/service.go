package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"ogacraft/api/internal/auth"
	"ogacraft/api/internal/config"
	"ogacraft/api/internal/media"
	"ogacraft/api/internal/realtime"
	"ogacraft/api/internal/search"
	"ogacraft/api/internal/session"
	"ogacraft/api/internal/store"
	"ogacraft/api/internal/util"
)

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserSummary(context.Context, string) (store.UserSummary, error)
	UpdateUserProfile(context.Context, string, store.ProfileUpdate) (store.User, error)
	ListArtisans(context.Context, store.ArtisanFilter) ([]store.User, int, error)
	CreateJob(context.Context, store.Job) (store.Job, error)
	GetJob(context.Context, string) (store.Job, error)
	ListJobs(context.Context, store.JobFilter) ([]store.Job, int, error)
	UpdateJob(context.Context, string, store.JobUpdate) (store.Job, error)
	DeleteJob(context.Context, string) (bool, error)
	AssignJobArtisan(context.Context, string, string) (store.Job, error)
	AppendJobImage(context.Context, string, string) (store.Job, error)
	CreateProposal(context.Context, store.Proposal) (store.Proposal, error)
	SetProposalStatus(context.Context, string, store.ProposalStatus, bool) (store.Proposal, bool, error)
	CreateMessage(context.Context, store.Message) (store.Message, error)
	ListJobMessages(context.Context, string, int, int) ([]store.MessageWithSender, int, error)
	Ping(context.Context) error
}

type tokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

type tokenCache interface {
	Save(context.Context, string, session.TokenData) error
	Lookup(context.Context, string) (session.TokenData, error)
	Ping(context.Context) error
}

type jobSearch interface {
	Search(search.Query) search.Response
	IndexJob(search.JobRecord)
	DeleteJob(string)
}

type imageStore interface {
	PutJobImage(ctx context.Context, jobID, contentType string, body io.Reader, size int64) (media.Image, error)
	RemoveJobImage(ctx context.Context, key string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	hub      *realtime.Hub
	verifier tokenVerifier
	tokens   tokenCache
	search   jobSearch
	media    imageStore
	logger   zerolog.Logger
}

type Option func(*Service)

func WithVerifier(v *auth.Verifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

func WithTokenCache(c *session.RedisStore) Option {
	return func(s *Service) {
		if c != nil {
			s.tokens = c
		}
	}
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) {
		if svc != nil {
			s.search = svc
		}
	}
}

func WithMedia(m *media.Storage) Option {
	return func(s *Service) {
		if m != nil {
			s.media = m
		}
	}
}

func New(cfg config.Config, dataStore *store.PostgresStore, hub *realtime.Hub, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		hub:    hub,
		logger: logger.With().Str("component", "app").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

// Ping checks the database and, when configured, the token cache.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.tokens != nil {
		checks["redis"] = s.tokens.Ping(ctx)
	}
	return checks
}

// VerifyToken checks a bearer token, consulting the cache before the
// signature check and caching successful verifications.
func (s *Service) VerifyToken(ctx context.Context, token string) (auth.Claims, error) {
	if token == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	if s.verifier == nil {
		return auth.Claims{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Token verification is not configured", nil)
	}

	hash := auth.HashToken(token)
	if s.tokens != nil {
		cached, err := s.tokens.Lookup(ctx, hash)
		if err == nil {
			return auth.Claims{Subject: cached.Subject, SessionID: cached.SessionID, ExpiresAt: cached.ExpiresAt}, nil
		}
		if !errors.Is(err, session.ErrNotCached) {
			s.logger.Warn().Err(err).Msg("token cache lookup failed")
		}
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		return auth.Claims{}, err
	}
	if s.tokens != nil {
		if err := s.tokens.Save(ctx, hash, session.TokenData{
			Subject:   claims.Subject,
			SessionID: claims.SessionID,
			ExpiresAt: claims.ExpiresAt,
		}); err != nil {
			s.logger.Warn().Err(err).Msg("token cache save failed")
		}
	}
	return claims, nil
}

type RegisterInput struct {
	Email     string `json:"email"`
	Gender    string `json:"gender"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Location  string `json:"location"`
}

// Register returns the existing user for the email, or creates a client
// account. The boolean reports whether a new user was created.
func (s *Service) Register(ctx context.Context, input RegisterInput, authID string) (store.User, bool, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return store.User{}, false, authError("please provide email", nil)
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, false, err
	}

	gender := ""
	if isGender(input.Gender) {
		gender = input.Gender
	}
	created, err := s.store.CreateUser(ctx, store.User{
		ID:          util.NewID("usr"),
		AuthID:      authID,
		Email:       email,
		FirstName:   strings.TrimSpace(input.FirstName),
		LastName:    strings.TrimSpace(input.LastName),
		Location:    strings.TrimSpace(input.Location),
		Gender:      gender,
		AccountType: store.AccountClient,
	})
	if err != nil {
		return store.User{}, false, err
	}
	s.logger.Info().Str("user_id", created.ID).Msg("user registered")
	return created, true, nil
}

func (s *Service) FetchUser(ctx context.Context, email string) (store.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return store.User{}, authError("please provide email", nil)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, authError("please try registering", nil)
	}
	return user, err
}

// RequireUser rejects emails that do not belong to a registered user.
func (s *Service) RequireUser(ctx context.Context, email string) (store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, authError("please make sure you are registered", nil)
	}
	return user, err
}

type ProfileInput struct {
	FirstName         string
	LastName          string
	Location          string
	Bio               string
	ProfilePicture    string
	Gender            string
	Categories        string
	YearsOfExperience string
	AccountType       string
}

// UpdateProfile applies the non-empty fields of input. Unknown genders and
// account types are ignored; unknown categories reject the whole update.
func (s *Service) UpdateProfile(ctx context.Context, email string, input ProfileInput) (store.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return store.User{}, validationError("please provide email", nil)
	}

	var update store.ProfileUpdate
	update.FirstName = optional(input.FirstName)
	update.LastName = optional(input.LastName)
	update.Location = optional(input.Location)
	update.ProfileDescription = optional(input.Bio)
	update.ProfilePicture = optional(input.ProfilePicture)
	if isGender(input.Gender) {
		update.Gender = &input.Gender
	}
	if strings.TrimSpace(input.Categories) != "" {
		categories, invalid := parseCategories(input.Categories)
		if len(invalid) > 0 {
			message := "Invalid category: " + strings.Join(invalid, ", ")
			return store.User{}, domainError(http.StatusConflict, "INVALID_CATEGORY", message, invalid)
		}
		update.Categories = categories
	}
	if value := strings.TrimSpace(input.YearsOfExperience); value != "" {
		years, err := parseNonNegative(value)
		if err != nil {
			return store.User{}, validationError("years_of_experience must be a non-negative integer", nil)
		}
		update.YearsOfExperience = &years
	}
	switch store.AccountType(input.AccountType) {
	case store.AccountClient, store.AccountArtisan:
		accountType := store.AccountType(input.AccountType)
		update.AccountType = &accountType
	}

	user, err := s.store.UpdateUserProfile(ctx, email, update)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User not found")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

func (s *Service) ListArtisans(ctx context.Context, location, categories string, page Page) ([]store.User, int, error) {
	list, _ := parseCategories(categories)
	return s.store.ListArtisans(ctx, store.ArtisanFilter{
		Location:   location,
		Categories: list,
		Limit:      page.Limit,
		Offset:     page.Offset(),
	})
}

type CreateJobInput struct {
	Client      string   `json:"client"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Deadline    *int64   `json:"deadline"`
	Location    string   `json:"location"`
	Budget      string   `json:"budget"`
	Images      []string `json:"images"`
	Categories  string   `json:"categories"`
}

func (s *Service) CreateJob(ctx context.Context, input CreateJobInput) (store.Job, error) {
	if strings.TrimSpace(input.Description) == "" || strings.TrimSpace(input.Location) == "" ||
		strings.TrimSpace(input.Budget) == "" || strings.TrimSpace(input.Categories) == "" {
		return store.Job{}, validationError("Missing required fields", nil)
	}
	categories, err := validateCategories(input.Categories)
	if err != nil {
		return store.Job{}, err
	}

	job, err := s.store.CreateJob(ctx, store.Job{
		ID:          util.NewID("job"),
		Client:      strings.TrimSpace(input.Client),
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Deadline:    input.Deadline,
		Location:    strings.TrimSpace(input.Location),
		Budget:      strings.TrimSpace(input.Budget),
		Images:      input.Images,
		Categories:  categories,
		Status:      store.JobOpen,
	})
	if err != nil {
		return store.Job{}, err
	}
	s.index(job)
	return job, nil
}

func (s *Service) ListJobs(ctx context.Context, filter JobListFilter, page Page) ([]store.Job, int, error) {
	categories, status, err := filter.parse()
	if err != nil {
		return nil, 0, err
	}
	return s.store.ListJobs(ctx, store.JobFilter{
		Location:   strings.TrimSpace(filter.Location),
		Categories: categories,
		Status:     status,
		Limit:      page.Limit,
		Offset:     page.Offset(),
	})
}

// SearchJobs runs a free-text job search with the same filters as ListJobs.
func (s *Service) SearchJobs(q string, filter JobListFilter, page Page) (search.Response, error) {
	categories, status, err := filter.parse()
	if err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(search.Query{
		Text:       q,
		Location:   strings.TrimSpace(filter.Location),
		Categories: categories,
		Status:     string(status),
		Limit:      page.Limit,
		Offset:     page.Offset(),
	}), nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (store.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Job{}, notFound("Job not found")
	}
	return job, err
}

type UpdateJobInput struct {
	Description *string   `json:"description"`
	Deadline    *int64    `json:"deadline"`
	Location    *string   `json:"location"`
	Budget      *string   `json:"budget"`
	Images      *[]string `json:"images"`
	Categories  *string   `json:"categories"`
}

func (s *Service) UpdateJob(ctx context.Context, jobID string, input UpdateJobInput) (store.Job, error) {
	if input.Categories == nil || strings.TrimSpace(*input.Categories) == "" {
		return store.Job{}, validationError("Missing categories in required fields", nil)
	}
	categories, err := validateCategories(*input.Categories)
	if err != nil {
		return store.Job{}, err
	}

	job, err := s.store.UpdateJob(ctx, jobID, store.JobUpdate{
		Description: input.Description,
		Deadline:    input.Deadline,
		Location:    input.Location,
		Budget:      input.Budget,
		Images:      input.Images,
		Categories:  &categories,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.Job{}, notFound("Job not found")
	}
	if err != nil {
		return store.Job{}, err
	}
	s.index(job)
	return job, nil
}

func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	deleted, err := s.store.DeleteJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Job not found")
	}
	if s.search != nil {
		s.search.DeleteJob(jobID)
	}
	return nil
}

// AddJobImage uploads an image and appends its URL to the job.
func (s *Service) AddJobImage(ctx context.Context, jobID, contentType string, body io.Reader, size int64) (store.Job, error) {
	if s.media == nil {
		return store.Job{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Image storage is not configured", nil)
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return store.Job{}, err
	}

	image, err := s.media.PutJobImage(ctx, jobID, contentType, body, size)
	if errors.Is(err, media.ErrUnsupportedType) {
		return store.Job{}, validationError("Unsupported image type", contentType)
	}
	if err != nil {
		return store.Job{}, err
	}

	job, err := s.store.AppendJobImage(ctx, jobID, image.URL)
	if err != nil {
		if removeErr := s.media.RemoveJobImage(ctx, image.Key); removeErr != nil {
			s.logger.Warn().Err(removeErr).Str("key", image.Key).Msg("orphaned job image")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return store.Job{}, notFound("Job not found")
		}
		return store.Job{}, err
	}
	return job, nil
}

func (s *Service) ListMessages(ctx context.Context, jobID string, page Page) ([]store.MessageWithSender, int, error) {
	return s.store.ListJobMessages(ctx, jobID, page.Limit, page.Offset())
}

func (s *Service) index(job store.Job) {
	if s.search == nil {
		return
	}
	s.search.IndexJob(search.JobRecord{
		ID:          job.ID,
		Title:       job.Title,
		Description: job.Description,
		Location:    job.Location,
		Budget:      job.Budget,
		Categories:  job.Categories,
		Status:      string(job.Status),
		Client:      job.Client,
	})
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func isGender(value string) bool {
	return value == "m" || value == "f" || value == "o"
}
