package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Harols34/reclutamientoconvertia-sub000/models"
	"github.com/Harols34/reclutamientoconvertia-sub000/repository"
)

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo *repository.GORMRepository
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo}
}

// SeedDatabase seeds the database with initial data (idempotent)
func (s *DatabaseSeeder) SeedDatabase() error {
	ctx := context.Background()

	if err := s.seedAdmin(ctx); err != nil {
		return err
	}
	if err := s.seedDemoCode(ctx); err != nil {
		return err
	}

	slog.Info("Database seeding completed")
	return nil
}

func (s *DatabaseSeeder) seedAdmin(ctx context.Context) error {
	existing, err := s.repo.GetAdminByEmail(ctx, "admin@convert-ia.com")
	if err != nil {
		return fmt.Errorf("failed to check existing admin: %w", err)
	}
	if existing != nil {
		slog.Info("Admin already seeded, skipping", "email", existing.Email)
		return nil
	}

	hashed, err := HashPassword("changeme")
	if err != nil {
		return err
	}

	admin := &models.AdminUser{
		Email:    "admin@convert-ia.com",
		Password: hashed,
		FullName: "Administrador",
		Role:     "admin",
	}
	if err := s.repo.CreateAdminUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to seed admin: %w", err)
	}

	slog.Info("Seeded default admin", "email", admin.Email)
	return nil
}

func (s *DatabaseSeeder) seedDemoCode(ctx context.Context) error {
	existing, err := s.repo.GetTrainingCodeByCode(ctx, "TRAINING123")
	if err != nil {
		return fmt.Errorf("failed to check existing demo code: %w", err)
	}
	if existing != nil {
		slog.Info("Demo training code already seeded, skipping")
		return nil
	}

	code := &models.TrainingCode{
		Code:          "TRAINING123",
		IsActive:      true,
		ExpiresAt:     time.Now().Add(30 * 24 * time.Hour),
		ClientName:    "Carlos Méndez",
		Personality:   "Gerente de compras ocupado y escéptico, directo al grano, desconfía de los vendedores insistentes",
		InterestLevel: "medium",
		Objections:    "El precio es muy alto; ya tenemos un proveedor; no veo la diferencia con la competencia",
		Product:       "Plataforma de reclutamiento con IA",
	}
	if err := s.repo.CreateTrainingCode(ctx, code); err != nil {
		return fmt.Errorf("failed to seed demo code: %w", err)
	}

	slog.Info("Seeded demo training code", "code", code.Code)
	return nil
}
