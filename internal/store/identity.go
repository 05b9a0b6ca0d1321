// Package store provides storage backends for Amparo.
//
// This file defines the relational identity store contract shared by the
// PostgreSQL and SQLite implementations.
package store

import (
	"context"
	"database/sql"

	"github.com/amparo-care/amparo/internal/models"
)

// IdentityStore persists caregivers, dependents, the caregiver-dependent
// relationship and each dependent's emergency profile.
//
// Lookup methods report absence as a nil (or empty) result with a nil error.
type IdentityStore interface {
	CreateCaregiver(ctx context.Context, c models.Caregiver) (models.Caregiver, error)
	GetCaregiver(ctx context.Context, id string) (*models.Caregiver, error)
	CreateDependent(ctx context.Context, d models.Dependent) (models.Dependent, error)
	GetDependent(ctx context.Context, id string) (*models.Dependent, error)

	// LinkCaregiverDependent records that the caregiver is responsible for
	// the dependent. Linking the same pair twice is a no-op.
	LinkCaregiverDependent(ctx context.Context, caregiverID, dependentID string) error
	ListDependentsByCaregiver(ctx context.Context, caregiverID string) ([]models.Dependent, error)

	// CaregiverForDependent returns the id of the dependent's primary
	// (earliest-linked) caregiver, or "" if none is linked.
	CaregiverForDependent(ctx context.Context, dependentID string) (string, error)

	UpsertEmergencyProfile(ctx context.Context, p models.EmergencyProfile) error
	GetEmergencyProfile(ctx context.Context, dependentID string) (*models.EmergencyProfile, error)

	Close() error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanCaregiver scans a Caregiver from a single sql.Row.
func scanCaregiver(row *sql.Row) (*models.Caregiver, error) {
	var c models.Caregiver
	var phone sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.Email, &phone, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Phone = phone.String
	return &c, nil
}

// scanDependent scans a Dependent from a scannable row.
func scanDependent(scan func(dest ...interface{}) error) (*models.Dependent, error) {
	var d models.Dependent
	var email, birthDate, medicalNotes sql.NullString
	err := scan(&d.ID, &d.Name, &email, &birthDate, &medicalNotes, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Email = email.String
	d.BirthDate = birthDate.String
	d.MedicalNotes = medicalNotes.String
	return &d, nil
}

// scanEmergencyProfile scans an EmergencyProfile from a single sql.Row.
func scanEmergencyProfile(row *sql.Row) (*models.EmergencyProfile, error) {
	var p models.EmergencyProfile
	var age sql.NullInt64
	var allergies, history, contact sql.NullString
	err := row.Scan(&p.DependentID, &p.Name, &age, &allergies, &history, &contact)
	if err != nil {
		return nil, err
	}
	p.Age = int(age.Int64)
	p.Allergies = allergies.String
	p.MedicalHistory = history.String
	p.EmergencyContact = contact.String
	return &p, nil
}
