// Package models defines the core data structures for Amparo.
//
// This file defines the caregiver/dependent identity records kept in the
// relational store. Password and token handling are owned by the auth layer
// and are out of scope here.
package models

import (
	"errors"
	"strings"
	"time"
)

// Identity validation errors
var (
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrEmptyEmail       = errors.New("email cannot be empty")
	ErrEmptyCaregiverID = errors.New("caregiver id cannot be empty")
)

// Caregiver (acompanhante) is a person responsible for one or more dependents
// and the recipient of failure and emergency alerts.
type Caregiver struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"` // used for SMS escalation of failure alerts
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the required caregiver fields.
func (c *Caregiver) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(c.Email) == "" {
		return ErrEmptyEmail
	}
	return nil
}

// Dependent (idoso) is the cared-for person whose routine is tracked.
type Dependent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	BirthDate    string    `json:"birth_date,omitempty"`
	MedicalNotes string    `json:"medical_notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the required dependent fields.
func (d *Dependent) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// EmergencyProfile is the medical summary shown to responders when a
// dependent raises an emergency.
type EmergencyProfile struct {
	DependentID      string `json:"dependent_id"`
	Name             string `json:"name"`
	Age              int    `json:"age,omitempty"`
	Allergies        string `json:"allergies,omitempty"`
	MedicalHistory   string `json:"medical_history,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}
