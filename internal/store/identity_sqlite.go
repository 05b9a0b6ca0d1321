// Package store provides storage backends for Amparo.
//
// This file implements the SQLite-backed identity store, used for
// single-node deployments and tests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amparo-care/amparo/internal/models"
	"github.com/amparo-care/amparo/internal/util"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteIdentityStore implements IdentityStore on SQLite.
type SQLiteIdentityStore struct {
	db *sql.DB
}

// NewSQLiteIdentityStore creates a new SQLite identity store with the given DSN.
// The DSN should be a file path to the SQLite database file; the containing
// directory is created if needed.
func NewSQLiteIdentityStore(opts ...Option) (*SQLiteIdentityStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteIdentityStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("SQLiteIdentityStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Memory DSNs have no directory to create.
	if !strings.Contains(cfg.DSN, ":memory:") {
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite identity store ready")
	return &SQLiteIdentityStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteIdentityStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteIdentityStore) CreateCaregiver(ctx context.Context, c models.Caregiver) (models.Caregiver, error) {
	if c.ID == "" {
		c.ID = util.GenerateCaregiverID()
	}
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO caregivers (id, name, email, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, nilIfEmpty(c.Phone), c.CreatedAt)
	if err != nil {
		slog.Error("SQLiteIdentityStore.CreateCaregiver failed", "error", err, "email", c.Email)
		return models.Caregiver{}, fmt.Errorf("failed to insert caregiver: %w", err)
	}
	return c, nil
}

func (s *SQLiteIdentityStore) GetCaregiver(ctx context.Context, id string) (*models.Caregiver, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, created_at FROM caregivers WHERE id = ?`, id)
	c, err := scanCaregiver(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteIdentityStore.GetCaregiver failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query caregiver %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteIdentityStore) CreateDependent(ctx context.Context, d models.Dependent) (models.Dependent, error) {
	if d.ID == "" {
		d.ID = util.GenerateDependentID()
	}
	d.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dependents (id, name, email, birth_date, medical_notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, nilIfEmpty(d.Email), nilIfEmpty(d.BirthDate), nilIfEmpty(d.MedicalNotes), d.CreatedAt)
	if err != nil {
		slog.Error("SQLiteIdentityStore.CreateDependent failed", "error", err, "name", d.Name)
		return models.Dependent{}, fmt.Errorf("failed to insert dependent: %w", err)
	}
	return d, nil
}

func (s *SQLiteIdentityStore) GetDependent(ctx context.Context, id string) (*models.Dependent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, birth_date, medical_notes, created_at FROM dependents WHERE id = ?`, id)
	d, err := scanDependent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteIdentityStore.GetDependent failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query dependent %s: %w", id, err)
	}
	return d, nil
}

func (s *SQLiteIdentityStore) LinkCaregiverDependent(ctx context.Context, caregiverID, dependentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caregiver_dependents (caregiver_id, dependent_id) VALUES (?, ?)`,
		caregiverID, dependentID)
	if err != nil {
		slog.Error("SQLiteIdentityStore.LinkCaregiverDependent failed", "error", err, "caregiver_id", caregiverID, "dependent_id", dependentID)
		return fmt.Errorf("failed to link caregiver %s to dependent %s: %w", caregiverID, dependentID, err)
	}
	return nil
}

func (s *SQLiteIdentityStore) ListDependentsByCaregiver(ctx context.Context, caregiverID string) ([]models.Dependent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.name, d.email, d.birth_date, d.medical_notes, d.created_at
		   FROM dependents d
		   JOIN caregiver_dependents cd ON cd.dependent_id = d.id
		  WHERE cd.caregiver_id = ?
		  ORDER BY cd.linked_at`, caregiverID)
	if err != nil {
		slog.Error("SQLiteIdentityStore.ListDependentsByCaregiver failed", "error", err, "caregiver_id", caregiverID)
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

func (s *SQLiteIdentityStore) CaregiverForDependent(ctx context.Context, dependentID string) (string, error) {
	var caregiverID string
	err := s.db.QueryRowContext(ctx,
		`SELECT caregiver_id FROM caregiver_dependents WHERE dependent_id = ? ORDER BY linked_at LIMIT 1`,
		dependentID).Scan(&caregiverID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteIdentityStore.CaregiverForDependent failed", "error", err, "dependent_id", dependentID)
		return "", fmt.Errorf("failed to query caregiver for dependent %s: %w", dependentID, err)
	}
	return caregiverID, nil
}

func (s *SQLiteIdentityStore) UpsertEmergencyProfile(ctx context.Context, p models.EmergencyProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emergency_profiles (dependent_id, name, age, allergies, medical_history, emergency_contact)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dependent_id) DO UPDATE SET
		     name = excluded.name, age = excluded.age, allergies = excluded.allergies,
		     medical_history = excluded.medical_history, emergency_contact = excluded.emergency_contact`,
		p.DependentID, p.Name, p.Age, nilIfEmpty(p.Allergies), nilIfEmpty(p.MedicalHistory), nilIfEmpty(p.EmergencyContact))
	if err != nil {
		slog.Error("SQLiteIdentityStore.UpsertEmergencyProfile failed", "error", err, "dependent_id", p.DependentID)
		return fmt.Errorf("failed to upsert emergency profile for %s: %w", p.DependentID, err)
	}
	return nil
}

func (s *SQLiteIdentityStore) GetEmergencyProfile(ctx context.Context, dependentID string) (*models.EmergencyProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT dependent_id, name, age, allergies, medical_history, emergency_contact
		   FROM emergency_profiles WHERE dependent_id = ?`, dependentID)
	p, err := scanEmergencyProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteIdentityStore.GetEmergencyProfile failed", "error", err, "dependent_id", dependentID)
		return nil, fmt.Errorf("failed to query emergency profile for %s: %w", dependentID, err)
	}
	return p, nil
}
