package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
	"github.com/Harols34/reclutamientoconvertia-sub000/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminEndpoints exposes the back-office surface: training-code management,
// session listing and manual evaluation review.
type AdminEndpoints struct {
	repo        *repository.GORMRepository
	authService *AuthService
}

func NewAdminEndpoints(repo *repository.GORMRepository, authService *AuthService) *AdminEndpoints {
	return &AdminEndpoints{repo: repo, authService: authService}
}

func (e *AdminEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/login", e.LoginHandler)

	r.Group(func(r chi.Router) {
		r.Use(e.authService.Middleware)
		r.Route("/codes", func(r chi.Router) {
			r.Post("/", e.CreateCodeHandler)
			r.Get("/", e.ListCodesHandler)
			r.Post("/{id}/deactivate", e.DeactivateCodeHandler)
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", e.ListSessionsHandler)
			r.Get("/{id}", e.GetSessionHandler)
			r.Put("/{id}/evaluation", e.UpdateEvaluationHandler)
		})
	})
}

type AdminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e *AdminEndpoints) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid request body")
		return
	}

	resp, err := e.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type CreateCodeRequest struct {
	Code          string    `json:"code,omitempty"` // generated when empty
	ExpiresAt     time.Time `json:"expires_at"`
	ClientName    string    `json:"client_name"`
	Personality   string    `json:"personality"`
	InterestLevel string    `json:"interest_level,omitempty"`
	Objections    string    `json:"objections,omitempty"`
	Product       string    `json:"product,omitempty"`
}

func (e *AdminEndpoints) CreateCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.ClientName) == "" || strings.TrimSpace(req.Personality) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "client_name and personality are required")
		return
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = time.Now().Add(30 * 24 * time.Hour)
	}

	code := strings.TrimSpace(strings.ToUpper(req.Code))
	if code == "" {
		// Short, typeable code for candidates
		code = "TRAIN-" + strings.ToUpper(uuid.New().String()[:8])
	}

	tc := &models.TrainingCode{
		Code:          code,
		IsActive:      true,
		ExpiresAt:     req.ExpiresAt,
		ClientName:    req.ClientName,
		Personality:   req.Personality,
		InterestLevel: req.InterestLevel,
		Objections:    req.Objections,
		Product:       req.Product,
	}

	if err := e.repo.CreateTrainingCode(r.Context(), tc); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to create training code")
		return
	}

	writeJSON(w, http.StatusCreated, tc)
}

func (e *AdminEndpoints) ListCodesHandler(w http.ResponseWriter, r *http.Request) {
	codes, err := e.repo.ListTrainingCodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to list training codes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"codes": codes, "count": len(codes)})
}

func (e *AdminEndpoints) DeactivateCodeHandler(w http.ResponseWriter, r *http.Request) {
	codeID := chi.URLParam(r, "id")

	code, err := e.repo.GetTrainingCode(r.Context(), codeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to load training code")
		return
	}
	if code == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Training code not found")
		return
	}

	if err := e.repo.DeactivateTrainingCode(r.Context(), codeID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to deactivate training code")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (e *AdminEndpoints) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := e.repo.ListTrainingSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (e *AdminEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := e.repo.GetTrainingSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}

	messages, err := e.repo.GetSessionMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": session, "messages": messages})
}

type UpdateEvaluationRequest struct {
	Score           float64 `json:"score"`
	Feedback        string  `json:"feedback"`
	Strengths       string  `json:"strengths,omitempty"`
	AreasToImprove  string  `json:"areas_to_improve,omitempty"`
	Recommendations string  `json:"recommendations,omitempty"`
}

// UpdateEvaluationHandler lets an admin overwrite the automatic evaluation of
// a finished session. The session itself stays immutable; only the evaluation
// fields change.
func (e *AdminEndpoints) UpdateEvaluationHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req UpdateEvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid request body")
		return
	}
	if req.Score < 0 || req.Score > 100 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "score must be between 0 and 100")
		return
	}

	session, err := e.repo.GetTrainingSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Session not found")
		return
	}
	if session.Active() {
		writeError(w, http.StatusConflict, ErrCodeValidation, "Session must be ended before editing its evaluation")
		return
	}

	eval := &models.Evaluation{
		Score:           req.Score,
		Feedback:        req.Feedback,
		Strengths:       req.Strengths,
		AreasToImprove:  req.AreasToImprove,
		Recommendations: req.Recommendations,
	}
	if err := e.repo.SaveEvaluation(r.Context(), sessionID, eval); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "Failed to update evaluation")
		return
	}

	admin, _ := r.Context().Value(AdminContextKey).(*models.AdminUser)
	if admin != nil {
		slog.Info("Evaluation updated by admin", "session_id", sessionID, "admin_id", admin.ID, "score", req.Score)
	}

	writeJSON(w, http.StatusOK, map[string]any{"evaluation": eval})
}
