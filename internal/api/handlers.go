// Package api provides HTTP handlers for the routine activity endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/amparo-care/amparo/internal/models"
)

// createActivityRequest is the body of POST /dependents/{id}/activities.
// caregiver_id is applied only when the dependent's routine is created.
type createActivityRequest struct {
	CaregiverID  string                 `json:"caregiver_id,omitempty"`
	Title        string                 `json:"title"`
	Kind         models.ActivityKind    `json:"kind"`
	Description  string                 `json:"description,omitempty"`
	Schedule     time.Time              `json:"schedule"`
	SpecificData map[string]interface{} `json:"specific_data,omitempty"`
}

func (s *Server) createActivityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	dependentID := r.PathValue("dependentID")
	slog.Debug("Server.createActivityHandler: processing request", "dependent_id", dependentID)

	var req createActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createActivityHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	caregiverID := req.CaregiverID
	if caregiverID == "" && s.identity != nil {
		// Fall back to the primary caregiver recorded in the identity store.
		id, err := s.identity.CaregiverForDependent(r.Context(), dependentID)
		if err != nil {
			slog.Warn("Server.createActivityHandler: caregiver lookup failed", "error", err, "dependent_id", dependentID)
		} else {
			caregiverID = id
		}
	}

	activity, err := s.manager.Create(r.Context(), dependentID, caregiverID, models.Activity{
		Title:        req.Title,
		Kind:         req.Kind,
		Description:  req.Description,
		Schedule:     req.Schedule,
		SpecificData: req.SpecificData,
	})
	if err != nil {
		if isValidationError(err) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.createActivityHandler: create failed", "error", err, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create activity"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(activity))
}

func (s *Server) listActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	dependentID := r.PathValue("dependentID")
	activities, err := s.manager.List(r.Context(), dependentID)
	if err != nil {
		slog.Error("Server.listActivitiesHandler: list failed", "error", err, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list activities"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(activities))
}

func (s *Server) getActivityHandler(w http.ResponseWriter, r *http.Request) {
	dependentID := r.PathValue("dependentID")
	activityID := r.PathValue("activityID")
	activity, err := s.manager.Get(r.Context(), dependentID, activityID)
	if err != nil {
		if errors.Is(err, models.ErrActivityNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Activity not found"))
			return
		}
		slog.Error("Server.getActivityHandler: get failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get activity"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(activity))
}

func (s *Server) updateActivityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	dependentID := r.PathValue("dependentID")
	activityID := r.PathValue("activityID")

	var patch models.ActivityPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		slog.Warn("Server.updateActivityHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	activity, err := s.manager.Update(r.Context(), dependentID, activityID, patch)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrActivityNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Activity not found"))
		case isValidationError(err):
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		default:
			slog.Error("Server.updateActivityHandler: update failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update activity"))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(activity))
}

func (s *Server) deleteActivityHandler(w http.ResponseWriter, r *http.Request) {
	dependentID := r.PathValue("dependentID")
	activityID := r.PathValue("activityID")
	deleted, err := s.manager.Delete(r.Context(), dependentID, activityID)
	if err != nil {
		slog.Error("Server.deleteActivityHandler: delete failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete activity"))
		return
	}
	if !deleted {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Activity not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Activity deleted", nil))
}

func (s *Server) deleteAllActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	dependentID := r.PathValue("dependentID")
	deleted, err := s.manager.DeleteAll(r.Context(), dependentID)
	if err != nil {
		slog.Error("Server.deleteAllActivitiesHandler: delete failed", "error", err, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete activities"))
		return
	}
	if !deleted {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Routine not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("All activities deleted", nil))
}

func (s *Server) routineLogHandler(w http.ResponseWriter, r *http.Request) {
	dependentID := r.PathValue("dependentID")
	entries, err := s.manager.Log(r.Context(), dependentID)
	if err != nil {
		if errors.Is(err, models.ErrRoutineNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Routine not found"))
			return
		}
		slog.Error("Server.routineLogHandler: log read failed", "error", err, "dependent_id", dependentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read routine log"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

// isValidationError reports whether the error is one of the model-level
// validation sentinels, which map to 400 responses.
func isValidationError(err error) bool {
	for _, v := range []error{
		models.ErrEmptyDependentID,
		models.ErrEmptyTitle,
		models.ErrTitleTooLong,
		models.ErrDescriptionTooLong,
		models.ErrInvalidActivityKind,
		models.ErrInvalidStatus,
		models.ErrMissingSchedule,
		models.ErrEmptyPatch,
		models.ErrEmptyName,
		models.ErrEmptyEmail,
		models.ErrEmptyCaregiverID,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
