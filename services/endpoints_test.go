package services

import (
	"strings"
	"testing"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
)

func TestEvaluationFromSession(t *testing.T) {
	score := 75.0
	feedback := "Buen manejo de la conversación"
	session := &models.TrainingSession{
		Score:           &score,
		Feedback:        &feedback,
		Strengths:       "Escucha activa",
		AreasToImprove:  "Cierre",
		Recommendations: "Practicar preguntas abiertas",
	}

	eval := evaluationFromSession(session)
	if eval.Score != score {
		t.Errorf("score = %v, want %v", eval.Score, score)
	}
	if eval.Feedback != feedback {
		t.Errorf("feedback = %q, want %q", eval.Feedback, feedback)
	}
	if eval.Strengths != "Escucha activa" {
		t.Errorf("strengths = %q", eval.Strengths)
	}
}

func TestEvaluationFromSessionPendingScore(t *testing.T) {
	// A session whose scoring is still in flight reports the neutral result
	eval := evaluationFromSession(&models.TrainingSession{})
	if eval.Score != NeutralScore {
		t.Errorf("score = %v, want neutral %v", eval.Score, NeutralScore)
	}
	if eval.Feedback != NeutralFeedback {
		t.Errorf("feedback = %q, want neutral fallback", eval.Feedback)
	}
}

func TestBuildWelcomeMessage(t *testing.T) {
	code := &models.TrainingCode{ClientName: "Carlos Méndez", Product: "plataforma CRM"}

	msg := buildWelcomeMessage(code, "Ana")
	for _, want := range []string{"Ana", "Carlos Méndez", "plataforma CRM"} {
		if !strings.Contains(msg, want) {
			t.Errorf("welcome message missing %q: %s", want, msg)
		}
	}
}
