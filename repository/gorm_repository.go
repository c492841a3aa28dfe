package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
	"gorm.io/gorm"
)

// Conflict errors surfaced by the conditional updates below. The write itself
// is the authority for uniqueness; callers must not pre-check and then write.
var (
	ErrCodeConflict        = errors.New("training code is not redeemable")
	ErrSessionAlreadyEnded = errors.New("training session already ended")
)

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.AdminUser{},
		&models.TrainingCode{},
		&models.TrainingSession{},
		&models.TrainingMessage{},
	)
}

// Training code operations

func (r *GORMRepository) CreateTrainingCode(ctx context.Context, code *models.TrainingCode) error {
	if err := r.db.WithContext(ctx).Create(code).Error; err != nil {
		slog.Error("Failed to create training code", "error", err)
		return err
	}
	slog.Info("Training code created", "code_id", code.ID, "code", code.Code)
	return nil
}

func (r *GORMRepository) GetTrainingCodeByCode(ctx context.Context, code string) (*models.TrainingCode, error) {
	var tc models.TrainingCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&tc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get training code", "error", err, "code", code)
		return nil, err
	}
	return &tc, nil
}

func (r *GORMRepository) GetTrainingCode(ctx context.Context, codeID string) (*models.TrainingCode, error) {
	var tc models.TrainingCode
	if err := r.db.WithContext(ctx).Where("id = ?", codeID).First(&tc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get training code by ID", "error", err, "code_id", codeID)
		return nil, err
	}
	return &tc, nil
}

func (r *GORMRepository) ListTrainingCodes(ctx context.Context) ([]models.TrainingCode, error) {
	var codes []models.TrainingCode
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&codes).Error; err != nil {
		slog.Error("Failed to list training codes", "error", err)
		return nil, err
	}
	return codes, nil
}

// DeactivateTrainingCode flips is_active off. Codes are never deleted.
func (r *GORMRepository) DeactivateTrainingCode(ctx context.Context, codeID string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.TrainingCode{}).
		Where("id = ?", codeID).
		Update("is_active", false).Error; err != nil {
		slog.Error("Failed to deactivate training code", "error", err, "code_id", codeID)
		return err
	}
	slog.Info("Training code deactivated", "code_id", codeID)
	return nil
}

// RedeemCodeAndCreateSession atomically marks a code used and creates the
// session that consumed it. The used flag is claimed with a single conditional
// update so two clients redeeming the same code concurrently cannot both
// succeed; the loser gets ErrCodeConflict.
func (r *GORMRepository) RedeemCodeAndCreateSession(ctx context.Context, code, candidateName string) (*models.TrainingSession, error) {
	var session *models.TrainingSession

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		res := tx.Model(&models.TrainingCode{}).
			Where("code = ? AND is_used = ? AND is_active = ? AND expires_at > ?", code, false, true, now).
			Update("is_used", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeConflict
		}

		var tc models.TrainingCode
		if err := tx.Where("code = ?", code).First(&tc).Error; err != nil {
			return err
		}

		session = &models.TrainingSession{
			CodeID:        tc.ID,
			CandidateName: candidateName,
			StartedAt:     now,
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		session.Code = &tc
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCodeConflict) {
			slog.Error("Failed to redeem training code", "error", err, "code", code)
		}
		return nil, err
	}

	slog.Info("Training code redeemed", "code", code, "session_id", session.ID, "candidate", candidateName)
	return session, nil
}

// Training session operations

func (r *GORMRepository) GetTrainingSession(ctx context.Context, sessionID string) (*models.TrainingSession, error) {
	var session models.TrainingSession
	err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		Preload("Code").
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get training session", "error", err, "session_id", sessionID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) ListTrainingSessions(ctx context.Context) ([]models.TrainingSession, error) {
	var sessions []models.TrainingSession
	err := r.db.WithContext(ctx).Preload("Code").Order("started_at DESC").Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to list training sessions", "error", err)
		return nil, err
	}
	return sessions, nil
}

// ListActiveTrainingSessions returns sessions whose ended_at is still null.
// Used at startup to rebuild the watchdog registry after a restart.
func (r *GORMRepository) ListActiveTrainingSessions(ctx context.Context) ([]models.TrainingSession, error) {
	var sessions []models.TrainingSession
	err := r.db.WithContext(ctx).Where("ended_at IS NULL").Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to list active training sessions", "error", err)
		return nil, err
	}
	return sessions, nil
}

// ClaimSessionEnd marks a session as ended if and only if it is still active.
// Returns ErrSessionAlreadyEnded when another trigger (timer vs manual end)
// already claimed the termination, so exactly one caller runs the evaluation.
func (r *GORMRepository) ClaimSessionEnd(ctx context.Context, sessionID string, endedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.TrainingSession{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", endedAt)
	if res.Error != nil {
		slog.Error("Failed to claim session end", "error", res.Error, "session_id", sessionID)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionAlreadyEnded
	}
	slog.Info("Training session end claimed", "session_id", sessionID)
	return nil
}

// SaveEvaluation writes the scored result onto the session record. Admins may
// call this again later to overwrite the automatic evaluation.
func (r *GORMRepository) SaveEvaluation(ctx context.Context, sessionID string, eval *models.Evaluation) error {
	updates := map[string]any{
		"score":            eval.Score,
		"feedback":         eval.Feedback,
		"strengths":        eval.Strengths,
		"areas_to_improve": eval.AreasToImprove,
		"recommendations":  eval.Recommendations,
	}
	if err := r.db.WithContext(ctx).
		Model(&models.TrainingSession{}).
		Where("id = ?", sessionID).
		Updates(updates).Error; err != nil {
		slog.Error("Failed to save evaluation", "error", err, "session_id", sessionID)
		return err
	}
	slog.Info("Evaluation saved", "session_id", sessionID, "score", eval.Score)
	return nil
}

// Training message operations

func (r *GORMRepository) CreateTrainingMessage(ctx context.Context, message *models.TrainingMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		slog.Error("Failed to create training message", "error", err, "session_id", message.SessionID)
		return err
	}
	slog.Info("Training message created", "message_id", message.ID, "session_id", message.SessionID, "sender", message.Sender)
	return nil
}

// GetSessionMessages returns the full transcript ordered by sent_at ascending.
// This ordering is the single source of truth for display order.
func (r *GORMRepository) GetSessionMessages(ctx context.Context, sessionID string) ([]models.TrainingMessage, error) {
	var messages []models.TrainingMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sent_at ASC").
		Find(&messages).Error
	if err != nil {
		slog.Error("Failed to get session messages", "error", err, "session_id", sessionID)
		return nil, err
	}
	return messages, nil
}

// Admin operations

func (r *GORMRepository) CreateAdminUser(ctx context.Context, admin *models.AdminUser) error {
	if err := r.db.WithContext(ctx).Create(admin).Error; err != nil {
		slog.Error("Failed to create admin user", "error", err)
		return err
	}
	slog.Info("Admin user created", "admin_id", admin.ID, "email", admin.Email)
	return nil
}

func (r *GORMRepository) GetAdminByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	var admin models.AdminUser
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&admin).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get admin by email", "error", err, "email", email)
		return nil, err
	}
	return &admin, nil
}

func (r *GORMRepository) GetAdminByID(ctx context.Context, id string) (*models.AdminUser, error) {
	var admin models.AdminUser
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&admin).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get admin by ID", "error", err, "admin_id", id)
		return nil, err
	}
	return &admin, nil
}
