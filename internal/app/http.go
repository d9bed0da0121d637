package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ogacraft/api/internal/auth"
	"ogacraft/api/internal/store"
)

type HTTPServer struct {
	service *Service
	socket  http.Handler
	logger  zerolog.Logger
}

func NewHTTPServer(service *Service, socket http.Handler, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service: service,
		socket:  socket,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestMetrics)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(s.service.cfg.CORSOrigin),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	if s.socket != nil {
		r.Handle("/ws", s.socket)
	}

	r.Get("/", s.handleRoot)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Get("/fetch/{email}", s.handleFetchUser)
		r.With(s.requireToken, s.requireRegisteredUser).Put("/update-profile", s.handleUpdateProfile)
	})

	r.Route("/api/query", func(r chi.Router) {
		r.Get("/categories", s.handleCategories)
		r.Get("/artisans", s.handleListArtisans)
	})

	r.Route("/api/jobs", func(r chi.Router) {
		r.With(s.requireToken, s.requireRegisteredUser).Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Put("/{id}", s.handleUpdateJob)
		r.Delete("/{id}", s.handleDeleteJob)
		r.With(s.requireToken).Post("/{id}/images", s.handleUploadJobImage)
	})

	r.Get("/api/messages/{jobId}", s.handleListMessages)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "ogacraft api", map[string]any{
		"service": "ogacraft",
		"socket":  "/ws",
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	// A verified token links the account to the identity provider; the
	// endpoint itself stays open.
	authID := ""
	if token := bearerToken(r); token != "" {
		if claims, err := s.service.VerifyToken(r.Context(), token); err == nil {
			authID = claims.Subject
		}
	}

	user, created, err := s.service.Register(r.Context(), body, authID)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	message := "that went well.. 🙂"
	if created {
		message = "successfully registered 🎊"
	}
	writeSuccess(w, http.StatusOK, message, user)
}

func (s *HTTPServer) handleFetchUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.FetchUser(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "that went well.. 🙂", user)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	query := r.URL.Query()
	user, err := s.service.UpdateProfile(r.Context(), body.Email, ProfileInput{
		FirstName:         query.Get("first_name"),
		LastName:          query.Get("last_name"),
		Location:          query.Get("location"),
		Bio:               query.Get("bio"),
		ProfilePicture:    query.Get("profile_picture"),
		Gender:            query.Get("gender"),
		Categories:        strings.Join(query["categories"], ","),
		YearsOfExperience: query.Get("years_of_experience"),
		AccountType:       query.Get("account_type"),
	})
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile updated successfully", user)
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "that went well.. 🙂", store.Categories)
}

func (s *HTTPServer) handleListArtisans(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r, defaultPageLimit)
	query := r.URL.Query()
	artisans, total, err := s.service.ListArtisans(r.Context(), query.Get("location"), strings.Join(query["categories"], ","), page)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Artisans fetched successfully", map[string]any{
		"artisans":   artisans,
		"pagination": pagination(page, total),
	})
}

func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body CreateJobInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if user, ok := registeredUser(r.Context()); ok && strings.TrimSpace(body.Client) == "" {
		body.Client = user.ID
	}
	job, err := s.service.CreateJob(r.Context(), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Job created successfully", job)
}

func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r, defaultPageLimit)
	query := r.URL.Query()
	filter := JobListFilter{
		Location:   query.Get("location"),
		Categories: strings.Join(query["categories"], ","),
		Status:     query.Get("status"),
	}

	if text := strings.TrimSpace(query.Get("q")); text != "" {
		result, err := s.service.SearchJobs(text, filter, page)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "Jobs fetched successfully", map[string]any{
			"jobs":       result.Results,
			"query":      result.Query,
			"pagination": pagination(page, result.Total),
		})
		return
	}

	jobs, total, err := s.service.ListJobs(r.Context(), filter, page)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Jobs fetched successfully", map[string]any{
		"jobs":       jobs,
		"pagination": pagination(page, total),
	})
}

func (s *HTTPServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Job fetched successfully", job)
}

func (s *HTTPServer) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var body UpdateJobInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	job, err := s.service.UpdateJob(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Job updated successfully", job)
}

func (s *HTTPServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Job deleted successfully", nil)
}

func (s *HTTPServer) handleUploadJobImage(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.service.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected multipart form with an image field", nil)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing image field", nil)
		return
	}
	defer file.Close()
	if header.Size > maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", fmt.Sprintf("Image exceeds %d bytes", maxBytes), nil)
		return
	}

	job, err := s.service.AddJobImage(r.Context(), chi.URLParam(r, "id"), header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Image uploaded successfully", job)
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r, 20)
	messages, total, err := s.service.ListMessages(r.Context(), chi.URLParam(r, "jobId"), page)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Messages fetched", map[string]any{
		"messages":   messages,
		"pagination": pagination(page, total),
	})
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func pagination(page Page, total int) map[string]int {
	return map[string]int{
		"total": total,
		"page":  page.Number,
		"limit": page.Limit,
		"pages": page.Pages(total),
	}
}

func corsOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, response any) {
	writeJSON(w, status, map[string]any{
		"status":   "success",
		"message":  message,
		"response": response,
	})
}

// writeError answers with "fail" for client errors and "error" for server
// errors. details, when present, go in the response field.
func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	outcome := "fail"
	if status >= http.StatusInternalServerError {
		outcome = "error"
	}
	writeJSON(w, status, map[string]any{
		"status":   outcome,
		"code":     code,
		"message":  message,
		"response": details,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusConflict, "AUTH_FAILED", "error occurred while verifying", err.Error()
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
