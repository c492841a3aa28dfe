package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - TrainingCode from code.go
// - TrainingSession from session.go
// - TrainingMessage from message.go
// - AdminUser from admin.go

// Database schema overview:
// 1. training_codes - Single-use access codes bound to a scripted client persona
// 2. training_sessions - One candidate run from code redemption to evaluation
// 3. training_messages - The ordered chat transcript of a session
// 4. admin_users - Back-office accounts managing codes and evaluations
