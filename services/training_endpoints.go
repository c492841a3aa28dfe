package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
	"github.com/Harols34/reclutamientoconvertia-sub000/repository"
	ws "github.com/Harols34/reclutamientoconvertia-sub000/websocket"
	"github.com/go-chi/chi/v5"
)

// Machine-readable error codes surfaced to the client alongside the
// human-readable message.
const (
	ErrCodeInvalid     = "invalid_code"
	ErrCodeUsed        = "code_used"
	ErrCodeExpired     = "code_expired"
	ErrCodeValidation  = "validation_error"
	ErrCodeNotFound    = "not_found"
	ErrCodeSessionOver = "session_ended"
	ErrCodeAIFailure   = "ai_unavailable"
	ErrCodeInternal    = "internal_error"
)

type TrainingEndpoints struct {
	repo            *repository.GORMRepository
	geminiService   *GeminiService
	hub             *ws.Hub
	watchdog        *SessionWatchdog
	sessionDuration time.Duration
}

func NewTrainingEndpoints(repo *repository.GORMRepository, geminiService *GeminiService, hub *ws.Hub, sessionDuration time.Duration) *TrainingEndpoints {
	return &TrainingEndpoints{
		repo:            repo,
		geminiService:   geminiService,
		hub:             hub,
		sessionDuration: sessionDuration,
	}
}

// SetWatchdog wires the server-side session watchdog. Set once at startup.
func (e *TrainingEndpoints) SetWatchdog(w *SessionWatchdog) {
	e.watchdog = w
}

func (e *TrainingEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/training", func(r chi.Router) {
		r.Post("/codes/validate", e.ValidateCodeHandler)
		r.Post("/sessions", e.CreateSessionHandler)
		r.Post("/sessions/{id}/messages", e.SendMessageHandler)
		r.Get("/sessions/{id}/messages", e.GetMessagesHandler)
		r.Post("/sessions/{id}/end", e.EndSessionHandler)
		r.Get("/sessions/{id}/evaluation", e.GetEvaluationHandler)
	})
}

type ValidateCodeRequest struct {
	Code string `json:"code"`
}

type ValidateCodeResponse struct {
	Valid      bool   `json:"valid"`
	ClientName string `json:"client_name"`
	Product    string `json:"product,omitempty"`
}

// ValidateCodeHandler checks a code without consuming it. The authoritative
// single-use check still happens at redemption time via a conditional update.
func (e *TrainingEndpoints) ValidateCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req ValidateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid request body")
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "El código es requerido")
		return
	}

	tc, err := e.repo.GetTrainingCodeByCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo validar el código")
		return
	}
	if tc == nil || !tc.IsActive {
		writeError(w, http.StatusNotFound, ErrCodeInvalid, "Código de entrenamiento inválido")
		return
	}
	if tc.IsUsed {
		writeError(w, http.StatusConflict, ErrCodeUsed, "Este código ya fue utilizado")
		return
	}
	if tc.Expired(time.Now()) {
		writeError(w, http.StatusGone, ErrCodeExpired, "Este código ha expirado")
		return
	}

	writeJSON(w, http.StatusOK, ValidateCodeResponse{
		Valid:      true,
		ClientName: tc.ClientName,
		Product:    tc.Product,
	})

	slog.Info("Training code validated", "code", code)
}

type CreateSessionRequest struct {
	Code          string `json:"code"`
	CandidateName string `json:"candidate_name"`
}

type CreateSessionResponse struct {
	Session        models.TrainingSession `json:"session"`
	WelcomeMessage models.TrainingMessage `json:"welcome_message"`
}

// CreateSessionHandler redeems a code and opens the chat session. Marking the
// code used and creating the session happen in one transaction behind a
// conditional update, so a concurrent redemption of the same code loses
// cleanly instead of producing a duplicate session.
func (e *TrainingEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.CandidateName)
	if name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "El nombre es requerido")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "El código es requerido")
		return
	}

	session, err := e.repo.RedeemCodeAndCreateSession(r.Context(), code, name)
	if err != nil {
		if errors.Is(err, repository.ErrCodeConflict) {
			writeError(w, http.StatusConflict, ErrCodeUsed, "No se pudo iniciar la sesión: el código no está disponible")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo iniciar la sesión")
		return
	}

	// Persona greeting opens the conversation so the chat never starts empty
	welcome := &models.TrainingMessage{
		SessionID: session.ID,
		Sender:    models.SenderAI,
		Content:   buildWelcomeMessage(session.Code, name),
		SentAt:    time.Now(),
	}
	if err := e.repo.CreateTrainingMessage(r.Context(), welcome); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo iniciar la conversación")
		return
	}
	e.hub.PublishMessage(welcome)

	if e.watchdog != nil {
		e.watchdog.Register(session.ID, session.StartedAt)
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		Session:        *session,
		WelcomeMessage: *welcome,
	})

	slog.Info("Training session started", "session_id", session.ID, "candidate", name)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SendMessageResponse struct {
	Message models.TrainingMessage  `json:"message"`
	AIReply *models.TrainingMessage `json:"ai_reply,omitempty"`
}

// SendMessageHandler persists the candidate's message, asks the persona for a
// reply and persists that too. Both records are pushed to the realtime hub; the
// HTTP response echoes them as the faster delivery path, and the client's store
// deduplicates whichever copy arrives second.
//
// If the AI call fails the candidate message STAYS persisted: only the reply is
// missing, and the client treats that as "no reply yet" rather than a failed
// exchange.
func (e *TrainingEndpoints) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "Invalid request body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "El mensaje no puede estar vacío")
		return
	}

	session, err := e.repo.GetTrainingSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo cargar la sesión")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Sesión no encontrada")
		return
	}
	if !session.Active() {
		writeError(w, http.StatusConflict, ErrCodeSessionOver, "La sesión ya finalizó")
		return
	}

	candidateMsg := &models.TrainingMessage{
		SessionID: sessionID,
		Sender:    models.SenderCandidate,
		Content:   content,
		SentAt:    time.Now(),
	}
	if err := e.repo.CreateTrainingMessage(r.Context(), candidateMsg); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo guardar el mensaje")
		return
	}
	e.hub.PublishMessage(candidateMsg)

	history, err := e.repo.GetSessionMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo cargar el historial")
		return
	}

	reply, err := e.geminiService.GenerateClientReply(r.Context(), session.Code, history)
	if err != nil {
		slog.Error("Failed to generate client reply", "error", err, "session_id", sessionID)
		// Candidate message is already persisted; report only the missing reply
		writeJSONWithError(w, http.StatusBadGateway, ErrCodeAIFailure,
			"El cliente no pudo responder en este momento, intenta de nuevo",
			SendMessageResponse{Message: *candidateMsg})
		return
	}

	aiMsg := &models.TrainingMessage{
		SessionID: sessionID,
		Sender:    models.SenderAI,
		Content:   reply,
		SentAt:    time.Now(),
	}
	if err := e.repo.CreateTrainingMessage(r.Context(), aiMsg); err != nil {
		writeJSONWithError(w, http.StatusInternalServerError, ErrCodeInternal,
			"No se pudo guardar la respuesta del cliente",
			SendMessageResponse{Message: *candidateMsg})
		return
	}
	e.hub.PublishMessage(aiMsg)

	writeJSON(w, http.StatusOK, SendMessageResponse{
		Message: *candidateMsg,
		AIReply: aiMsg,
	})
}

type GetMessagesResponse struct {
	Messages []models.TrainingMessage `json:"messages"`
	Count    int                      `json:"count"`
}

// GetMessagesHandler returns the full ordered transcript. This is the manual
// resync path used when the realtime channel has exhausted its retries.
func (e *TrainingEndpoints) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := e.repo.GetTrainingSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo cargar la sesión")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Sesión no encontrada")
		return
	}

	messages, err := e.repo.GetSessionMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudieron cargar los mensajes")
		return
	}

	writeJSON(w, http.StatusOK, GetMessagesResponse{Messages: messages, Count: len(messages)})
}

type EndSessionResponse struct {
	Evaluation models.Evaluation `json:"evaluation"`
}

// EndSessionHandler terminates the session and returns the evaluation. The
// operation is idempotent: the timer expiring and the candidate clicking "end"
// in the same instant still produce exactly one evaluation write, and the
// second caller receives the stored result.
func (e *TrainingEndpoints) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	eval, err := e.ConcludeSession(r.Context(), sessionID, "candidate request")
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "Sesión no encontrada")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo finalizar la sesión")
		return
	}

	writeJSON(w, http.StatusOK, EndSessionResponse{Evaluation: *eval})
}

// GetEvaluationHandler returns the stored evaluation once populated. The
// client polls this while showing a loading indicator in the Ended state.
func (e *TrainingEndpoints) GetEvaluationHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := e.repo.GetTrainingSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "No se pudo cargar la sesión")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Sesión no encontrada")
		return
	}

	if session.Score == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
		return
	}

	eval := evaluationFromSession(session)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "evaluation": eval})
}

var errSessionNotFound = errors.New("training session not found")

// ConcludeSession claims the session's terminal state, computes the evaluation
// and stores it. Safe to call from the HTTP handler, the server watchdog and
// retries alike: only the caller whose conditional update wins runs the AI
// scoring call, everyone else gets the stored (or neutral pending) result.
func (e *TrainingEndpoints) ConcludeSession(ctx context.Context, sessionID, reason string) (*models.Evaluation, error) {
	session, err := e.repo.GetTrainingSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errSessionNotFound
	}

	err = e.repo.ClaimSessionEnd(ctx, sessionID, time.Now())
	if errors.Is(err, repository.ErrSessionAlreadyEnded) {
		slog.Info("Session end already claimed", "session_id", sessionID, "reason", reason)
		// Another trigger won the race; report whatever it stored
		stored, err := e.repo.GetTrainingSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return evaluationFromSession(stored), nil
	}
	if err != nil {
		return nil, err
	}

	if e.watchdog != nil {
		e.watchdog.Remove(sessionID)
	}

	history, err := e.repo.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Never fails; falls back to a neutral score so the flow always terminates
	eval := e.geminiService.GenerateEvaluation(ctx, session.Code, session.CandidateName, history)

	if err := e.repo.SaveEvaluation(ctx, sessionID, eval); err != nil {
		return nil, err
	}
	e.hub.PublishSessionEnded(sessionID)

	slog.Info("Training session concluded", "session_id", sessionID, "reason", reason, "score", eval.Score)
	return eval, nil
}

// evaluationFromSession reads the evaluation fields off a session record,
// substituting the neutral result while scoring is still in flight.
func evaluationFromSession(session *models.TrainingSession) *models.Evaluation {
	if session.Score == nil {
		return neutralEvaluation()
	}
	eval := &models.Evaluation{
		Score:           *session.Score,
		Strengths:       session.Strengths,
		AreasToImprove:  session.AreasToImprove,
		Recommendations: session.Recommendations,
	}
	if session.Feedback != nil {
		eval.Feedback = *session.Feedback
	}
	return eval
}

func buildWelcomeMessage(code *models.TrainingCode, candidateName string) string {
	return fmt.Sprintf("Hola %s, soy %s. Me comentaron que querías hablarme sobre %s. Cuéntame, ¿de qué se trata?",
		candidateName, code.ClientName, code.Product)
}

// JSON response helpers shared by all endpoints

type errorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorPayload{Error: message, Code: code})
}

// writeJSONWithError returns a partial-success body plus error metadata, used
// when the candidate message persisted but the AI reply did not.
func writeJSONWithError(w http.ResponseWriter, status int, code, message string, body SendMessageResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		SendMessageResponse
		Error string `json:"error"`
		Code  string `json:"code"`
	}{body, message, code})
}
