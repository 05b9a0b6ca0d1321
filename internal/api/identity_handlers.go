// Package api provides HTTP handlers for the identity and emergency endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/amparo-care/amparo/internal/models"
)

func (s *Server) createCaregiverHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var caregiver models.Caregiver
	if err := json.NewDecoder(r.Body).Decode(&caregiver); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := caregiver.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	created, err := s.identity.CreateCaregiver(r.Context(), caregiver)
	if err != nil {
		slog.Error("Server.createCaregiverHandler: create failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create caregiver"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(created))
}

func (s *Server) getCaregiverHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("caregiverID")
	caregiver, err := s.identity.GetCaregiver(r.Context(), id)
	if err != nil {
		slog.Error("Server.getCaregiverHandler: get failed", "error", err, "caregiver_id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get caregiver"))
		return
	}
	if caregiver == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Caregiver not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(caregiver))
}

func (s *Server) createDependentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var dependent models.Dependent
	if err := json.NewDecoder(r.Body).Decode(&dependent); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := dependent.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	created, err := s.identity.CreateDependent(r.Context(), dependent)
	if err != nil {
		slog.Error("Server.createDependentHandler: create failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create dependent"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(created))
}

func (s *Server) getDependentHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dependentID")
	dependent, err := s.identity.GetDependent(r.Context(), id)
	if err != nil {
		slog.Error("Server.getDependentHandler: get failed", "error", err, "dependent_id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get dependent"))
		return
	}
	if dependent == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Dependent not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(dependent))
}

func (s *Server) linkDependentHandler(w http.ResponseWriter, r *http.Request) {
	caregiverID := r.PathValue("caregiverID")
	dependentID := r.PathValue("dependentID")
	if err := s.identity.LinkCaregiverDependent(r.Context(), caregiverID, dependentID); err != nil {
		slog.Error("Server.linkDependentHandler: link failed", "error", err, "caregiver_id", caregiverID, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to link dependent"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Dependent linked", nil))
}

func (s *Server) listDependentsHandler(w http.ResponseWriter, r *http.Request) {
	caregiverID := r.PathValue("caregiverID")
	dependents, err := s.identity.ListDependentsByCaregiver(r.Context(), caregiverID)
	if err != nil {
		slog.Error("Server.listDependentsHandler: list failed", "error", err, "caregiver_id", caregiverID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list dependents"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(dependents))
}

func (s *Server) upsertEmergencyProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	dependentID := r.PathValue("dependentID")
	var profile models.EmergencyProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	profile.DependentID = dependentID
	if profile.Name == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyName.Error()))
		return
	}
	if err := s.identity.UpsertEmergencyProfile(r.Context(), profile); err != nil {
		slog.Error("Server.upsertEmergencyProfileHandler: upsert failed", "error", err, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save emergency profile"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

func (s *Server) getEmergencyProfileHandler(w http.ResponseWriter, r *http.Request) {
	dependentID := r.PathValue("dependentID")
	profile, err := s.identity.GetEmergencyProfile(r.Context(), dependentID)
	if err != nil {
		slog.Error("Server.getEmergencyProfileHandler: get failed", "error", err, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get emergency profile"))
		return
	}
	if profile == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Emergency profile not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(profile))
}

// emergencyAlertRequest is the body of the emergency alert endpoints.
type emergencyAlertRequest struct {
	CaregiverID string    `json:"caregiver_id"`
	DependentID string    `json:"dependent_id,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

func (s *Server) emergencyAlertHandler(w http.ResponseWriter, r *http.Request) {
	s.handleEmergency(w, r, models.EventEmergency, "Emergency alert sent")
}

func (s *Server) emergencyCancelHandler(w http.ResponseWriter, r *http.Request) {
	s.handleEmergency(w, r, models.EventEmergencyCancel, "Emergency alert canceled")
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request, event models.EventType, okMessage string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req emergencyAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.CaregiverID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyCaregiverID.Error()))
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	payload := models.EmergencyAlert{
		CaregiverID: req.CaregiverID,
		DependentID: req.DependentID,
		Timestamp:   req.Timestamp,
	}
	if err := s.notifier.Publish(r.Context(), req.CaregiverID, event, payload); err != nil {
		slog.Error("Server.handleEmergency: publish failed", "error", err, "event", event, "caregiver_id", req.CaregiverID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to publish emergency event"))
		return
	}
	slog.Info("Server.handleEmergency: emergency event published", "event", event, "caregiver_id", req.CaregiverID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(okMessage, nil))
}
