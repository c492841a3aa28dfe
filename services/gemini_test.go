package services

import (
	"strings"
	"testing"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantScore    float64
		wantFeedback string
	}{
		{
			name:         "plain JSON",
			response:     `{"score": 72.5, "feedback": "Buen manejo de objeciones", "strengths": "Escucha activa"}`,
			wantScore:    72.5,
			wantFeedback: "Buen manejo de objeciones",
		},
		{
			name:         "markdown fenced JSON",
			response:     "```json\n{\"score\": 60, \"feedback\": \"Aceptable\"}\n```",
			wantScore:    60,
			wantFeedback: "Aceptable",
		},
		{
			name:         "bare fence",
			response:     "```\n{\"score\": 88, \"feedback\": \"Excelente cierre\"}\n```",
			wantScore:    88,
			wantFeedback: "Excelente cierre",
		},
		{
			name:         "score above range clamps to 100",
			response:     `{"score": 150, "feedback": "ok"}`,
			wantScore:    100,
			wantFeedback: "ok",
		},
		{
			name:         "negative score clamps to 0",
			response:     `{"score": -12, "feedback": "ok"}`,
			wantScore:    0,
			wantFeedback: "ok",
		},
		{
			name:         "missing feedback gets neutral text",
			response:     `{"score": 40}`,
			wantScore:    40,
			wantFeedback: NeutralFeedback,
		},
		{
			name:         "non JSON falls back to neutral",
			response:     "Lo siento, no puedo evaluar esta conversación.",
			wantScore:    NeutralScore,
			wantFeedback: NeutralFeedback,
		},
		{
			name:         "empty response falls back to neutral",
			response:     "",
			wantScore:    NeutralScore,
			wantFeedback: NeutralFeedback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := parseEvaluation(tt.response)
			if eval == nil {
				t.Fatal("parseEvaluation returned nil")
			}
			if eval.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", eval.Score, tt.wantScore)
			}
			if eval.Feedback != tt.wantFeedback {
				t.Errorf("feedback = %q, want %q", eval.Feedback, tt.wantFeedback)
			}
			if eval.Score < 0 || eval.Score > 100 {
				t.Errorf("score %v outside [0,100]", eval.Score)
			}
		})
	}
}

func TestGenerateEvaluationWithoutClientNeverFails(t *testing.T) {
	// A service with no API key configured must still produce a result
	svc := &GeminiService{}
	code := &models.TrainingCode{ClientName: "Carlos Méndez", Personality: "escéptico", Product: "CRM"}

	eval := svc.GenerateEvaluation(t.Context(), code, "Ana", nil)
	if eval == nil {
		t.Fatal("GenerateEvaluation returned nil")
	}
	if eval.Score != NeutralScore {
		t.Errorf("score = %v, want neutral %v", eval.Score, NeutralScore)
	}
	if eval.Feedback != NeutralFeedback {
		t.Errorf("feedback = %q, want neutral fallback", eval.Feedback)
	}
}

func TestNewGeminiServiceNeverNil(t *testing.T) {
	// A broken client config must degrade the service, not null it out:
	// the watchdog calls evaluation outside any HTTP recoverer
	svc := NewGeminiService("")
	if svc == nil {
		t.Fatal("NewGeminiService returned nil")
	}
}

func TestGenerateClientReplyWithoutClientErrors(t *testing.T) {
	svc := &GeminiService{}
	code := &models.TrainingCode{ClientName: "Carlos Méndez"}

	if _, err := svc.GenerateClientReply(t.Context(), code, nil); err == nil {
		t.Fatal("expected error when no client is configured")
	}
}

func TestBuildPersonaInstruction(t *testing.T) {
	code := &models.TrainingCode{
		ClientName:    "Carlos Méndez",
		Personality:   "escéptico y directo",
		InterestLevel: "medium",
		Objections:    "precio alto",
		Product:       "plataforma CRM",
	}

	instruction := buildPersonaInstruction(code)
	for _, want := range []string{"Carlos Méndez", "escéptico y directo", "precio alto", "plataforma CRM"} {
		if !strings.Contains(instruction, want) {
			t.Errorf("persona instruction missing %q", want)
		}
	}
}
