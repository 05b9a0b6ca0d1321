// Package store provides storage backends for Amparo.
//
// This file implements the PostgreSQL-backed identity store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/amparo-care/amparo/internal/models"
	"github.com/amparo-care/amparo/internal/util"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresIdentityStore implements IdentityStore on PostgreSQL.
type PostgresIdentityStore struct {
	db *sql.DB
}

// NewPostgresIdentityStore creates a new Postgres identity store based on provided options.
func NewPostgresIdentityStore(opts ...Option) (*PostgresIdentityStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresIdentityStore.NewPostgresIdentityStore: creating store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresIdentityStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres identity store ready")
	return &PostgresIdentityStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresIdentityStore) Close() error {
	return s.db.Close()
}

func (s *PostgresIdentityStore) CreateCaregiver(ctx context.Context, c models.Caregiver) (models.Caregiver, error) {
	if c.ID == "" {
		c.ID = util.GenerateCaregiverID()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caregivers (id, name, email, phone, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.Email, nilIfEmpty(c.Phone), c.CreatedAt)
	if err != nil {
		slog.Error("PostgresIdentityStore.CreateCaregiver failed", "error", err, "email", c.Email)
		return models.Caregiver{}, fmt.Errorf("failed to insert caregiver: %w", err)
	}
	return c, nil
}

func (s *PostgresIdentityStore) GetCaregiver(ctx context.Context, id string) (*models.Caregiver, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, created_at FROM caregivers WHERE id = $1`, id)
	c, err := scanCaregiver(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresIdentityStore.GetCaregiver failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query caregiver %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresIdentityStore) CreateDependent(ctx context.Context, d models.Dependent) (models.Dependent, error) {
	if d.ID == "" {
		d.ID = util.GenerateDependentID()
	}
	d.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dependents (id, name, email, birth_date, medical_notes, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Name, nilIfEmpty(d.Email), nilIfEmpty(d.BirthDate), nilIfEmpty(d.MedicalNotes), d.CreatedAt)
	if err != nil {
		slog.Error("PostgresIdentityStore.CreateDependent failed", "error", err, "name", d.Name)
		return models.Dependent{}, fmt.Errorf("failed to insert dependent: %w", err)
	}
	return d, nil
}

func (s *PostgresIdentityStore) GetDependent(ctx context.Context, id string) (*models.Dependent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, birth_date, medical_notes, created_at FROM dependents WHERE id = $1`, id)
	d, err := scanDependent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresIdentityStore.GetDependent failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query dependent %s: %w", id, err)
	}
	return d, nil
}

func (s *PostgresIdentityStore) LinkCaregiverDependent(ctx context.Context, caregiverID, dependentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caregiver_dependents (caregiver_id, dependent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		caregiverID, dependentID)
	if err != nil {
		slog.Error("PostgresIdentityStore.LinkCaregiverDependent failed", "error", err, "caregiver_id", caregiverID, "dependent_id", dependentID)
		return fmt.Errorf("failed to link caregiver %s to dependent %s: %w", caregiverID, dependentID, err)
	}
	return nil
}

func (s *PostgresIdentityStore) ListDependentsByCaregiver(ctx context.Context, caregiverID string) ([]models.Dependent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.name, d.email, d.birth_date, d.medical_notes, d.created_at
		   FROM dependents d
		   JOIN caregiver_dependents cd ON cd.dependent_id = d.id
		  WHERE cd.caregiver_id = $1
		  ORDER BY cd.linked_at`, caregiverID)
	if err != nil {
		slog.Error("PostgresIdentityStore.ListDependentsByCaregiver failed", "error", err, "caregiver_id", caregiverID)
		return nil, fmt.Errorf("failed to query dependents for caregiver %s: %w", caregiverID, err)
	}
	defer rows.Close()
	var dependents []models.Dependent
	for rows.Next() {
		d, err := scanDependent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependent row: %w", err)
		}
		dependents = append(dependents, *d)
	}
	return dependents, rows.Err()
}

func (s *PostgresIdentityStore) CaregiverForDependent(ctx context.Context, dependentID string) (string, error) {
	var caregiverID string
	err := s.db.QueryRowContext(ctx,
		`SELECT caregiver_id FROM caregiver_dependents WHERE dependent_id = $1 ORDER BY linked_at LIMIT 1`,
		dependentID).Scan(&caregiverID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresIdentityStore.CaregiverForDependent failed", "error", err, "dependent_id", dependentID)
		return "", fmt.Errorf("failed to query caregiver for dependent %s: %w", dependentID, err)
	}
	return caregiverID, nil
}

func (s *PostgresIdentityStore) UpsertEmergencyProfile(ctx context.Context, p models.EmergencyProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_profiles (dependent_id, name, age, allergies, medical_history, emergency_contact)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (dependent_id) DO UPDATE SET
		     name = EXCLUDED.name, age = EXCLUDED.age, allergies = EXCLUDED.allergies,
		     medical_history = EXCLUDED.medical_history, emergency_contact = EXCLUDED.emergency_contact`,
		p.DependentID, p.Name, p.Age, nilIfEmpty(p.Allergies), nilIfEmpty(p.MedicalHistory), nilIfEmpty(p.EmergencyContact))
	if err != nil {
		slog.Error("PostgresIdentityStore.UpsertEmergencyProfile failed", "error", err, "dependent_id", p.DependentID)
		return fmt.Errorf("failed to upsert emergency profile for %s: %w", p.DependentID, err)
	}
	return nil
}

func (s *PostgresIdentityStore) GetEmergencyProfile(ctx context.Context, dependentID string) (*models.EmergencyProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT dependent_id, name, age, allergies, medical_history, emergency_contact
		   FROM emergency_profiles WHERE dependent_id = $1`, dependentID)
	p, err := scanEmergencyProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresIdentityStore.GetEmergencyProfile failed", "error", err, "dependent_id", dependentID)
		return nil, fmt.Errorf("failed to query emergency profile for %s: %w", dependentID, err)
	}
	return p, nil
}
