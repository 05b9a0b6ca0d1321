package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amparo-care/amparo/internal/models"
	"github.com/amparo-care/amparo/internal/notify"
	"github.com/amparo-care/amparo/internal/routine"
	"github.com/amparo-care/amparo/internal/store"
)

// fakeIdentityStore is an in-memory IdentityStore for handler tests.
type fakeIdentityStore struct {
	caregivers map[string]models.Caregiver
	dependents map[string]models.Dependent
	links      map[string][]string // caregiverID -> dependentIDs, in link order
	profiles   map[string]models.EmergencyProfile
	nextID     int
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{
		caregivers: make(map[string]models.Caregiver),
		dependents: make(map[string]models.Dependent),
		links:      make(map[string][]string),
		profiles:   make(map[string]models.EmergencyProfile),
	}
}

func (f *fakeIdentityStore) CreateCaregiver(ctx context.Context, c models.Caregiver) (models.Caregiver, error) {
	if c.ID == "" {
		f.nextID++
		c.ID = fmt.Sprintf("c_%d", f.nextID)
	}
	c.CreatedAt = time.Now()
	f.caregivers[c.ID] = c
	return c, nil
}

func (f *fakeIdentityStore) GetCaregiver(ctx context.Context, id string) (*models.Caregiver, error) {
	c, ok := f.caregivers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeIdentityStore) CreateDependent(ctx context.Context, d models.Dependent) (models.Dependent, error) {
	if d.ID == "" {
		f.nextID++
		d.ID = fmt.Sprintf("d_%d", f.nextID)
	}
	d.CreatedAt = time.Now()
	f.dependents[d.ID] = d
	return d, nil
}

func (f *fakeIdentityStore) GetDependent(ctx context.Context, id string) (*models.Dependent, error) {
	d, ok := f.dependents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeIdentityStore) LinkCaregiverDependent(ctx context.Context, caregiverID, dependentID string) error {
	for _, id := range f.links[caregiverID] {
		if id == dependentID {
			return nil
		}
	}
	f.links[caregiverID] = append(f.links[caregiverID], dependentID)
	return nil
}

func (f *fakeIdentityStore) ListDependentsByCaregiver(ctx context.Context, caregiverID string) ([]models.Dependent, error) {
	out := []models.Dependent{}
	for _, id := range f.links[caregiverID] {
		if d, ok := f.dependents[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeIdentityStore) CaregiverForDependent(ctx context.Context, dependentID string) (string, error) {
	for caregiverID, deps := range f.links {
		for _, id := range deps {
			if id == dependentID {
				return caregiverID, nil
			}
		}
	}
	return "", nil
}

func (f *fakeIdentityStore) UpsertEmergencyProfile(ctx context.Context, p models.EmergencyProfile) error {
	f.profiles[p.DependentID] = p
	return nil
}

func (f *fakeIdentityStore) GetEmergencyProfile(ctx context.Context, dependentID string) (*models.EmergencyProfile, error) {
	p, ok := f.profiles[dependentID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeIdentityStore) Close() error { return nil }

func newTestServer() (*Server, *notify.MemoryNotifier, *fakeIdentityStore, *store.InMemoryRoutineStore) {
	n := notify.NewMemoryNotifier()
	identity := newFakeIdentityStore()
	routines := store.NewInMemoryRoutineStore()
	manager := routine.NewManager(routines, n)
	return NewServer(manager, identity, n), n, identity, routines
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp models.APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func createTestActivity(t *testing.T, handler http.Handler, dependentID string) map[string]interface{} {
	t.Helper()
	rec, resp := doJSON(t, handler, http.MethodPost, "/dependents/"+dependentID+"/activities", map[string]interface{}{
		"caregiver_id": "care-1",
		"title":        "Lunch",
		"kind":         "feeding",
		"schedule":     time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	activity, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected activity object in result, got %T", resp.Result)
	}
	return activity
}

func TestCreateActivityEndpoint(t *testing.T) {
	s, n, _, _ := newTestServer()
	activity := createTestActivity(t, s.Handler(), "dep-1")

	if activity["title"] != "Lunch" || activity["status"] != "pending" {
		t.Errorf("unexpected created activity: %+v", activity)
	}
	if id, _ := activity["id"].(string); id == "" {
		t.Error("expected a generated activity id")
	}
	if n.CountByEvent(models.EventActivityCreated) != 1 {
		t.Error("expected one activity_created_realtime event")
	}
}

func TestCreateActivityValidation(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec, resp := doJSON(t, s.Handler(), http.MethodPost, "/dependents/dep-1/activities", map[string]interface{}{
		"title":    "",
		"kind":     "feeding",
		"schedule": time.Now().Format(time.RFC3339),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error envelope, got %+v", resp)
	}
}

func TestCreateActivityCaregiverFallback(t *testing.T) {
	s, _, identity, routines := newTestServer()
	identity.CreateCaregiver(context.Background(), models.Caregiver{ID: "care-9", Name: "Ana", Email: "ana@example.com"})
	identity.LinkCaregiverDependent(context.Background(), "care-9", "dep-1")

	rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/dependents/dep-1/activities", map[string]interface{}{
		"title":    "Walk",
		"kind":     "physical_activity",
		"schedule": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	r, _ := routines.FindByDependent(context.Background(), "dep-1")
	if r == nil || r.CaregiverID != "care-9" {
		t.Errorf("expected the routine to record the linked caregiver, got %+v", r)
	}
}

func TestListActivitiesEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()
	createTestActivity(t, handler, "dep-1")

	rec, resp := doJSON(t, handler, http.MethodGet, "/dependents/dep-1/activities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list, ok := resp.Result.([]interface{})
	if !ok || len(list) != 1 {
		t.Errorf("expected one activity, got %+v", resp.Result)
	}

	rec, resp = doJSON(t, handler, http.MethodGet, "/dependents/unknown/activities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown dependent, got %d", rec.Code)
	}
	if list, ok := resp.Result.([]interface{}); !ok || len(list) != 0 {
		t.Errorf("expected empty list for unknown dependent, got %+v", resp.Result)
	}
}

func TestGetActivityEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()
	activity := createTestActivity(t, handler, "dep-1")
	id := activity["id"].(string)

	rec, _ := doJSON(t, handler, http.MethodGet, "/dependents/dep-1/activities/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/dependents/dep-1/activities/000000000000000000000000", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown activity, got %d", rec.Code)
	}
}

func TestUpdateActivityEndpoint(t *testing.T) {
	s, n, _, _ := newTestServer()
	handler := s.Handler()
	activity := createTestActivity(t, handler, "dep-1")
	id := activity["id"].(string)

	rec, resp := doJSON(t, handler, http.MethodPatch, "/dependents/dep-1/activities/"+id, map[string]interface{}{
		"status": "completed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := resp.Result.(map[string]interface{})
	if updated["status"] != "completed" || updated["completion_date"] == nil {
		t.Errorf("expected completed activity with completion date, got %+v", updated)
	}
	if n.CountByEvent(models.EventActivityUpdated) != 1 {
		t.Error("expected one activity_updated_realtime event")
	}

	rec, _ = doJSON(t, handler, http.MethodPatch, "/dependents/dep-1/activities/"+id, map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty patch, got %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPatch, "/dependents/dep-1/activities/000000000000000000000000", map[string]interface{}{
		"title": "x",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown activity, got %d", rec.Code)
	}
}

func TestDeleteActivityEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()
	activity := createTestActivity(t, handler, "dep-1")
	id := activity["id"].(string)

	rec, _ := doJSON(t, handler, http.MethodDelete, "/dependents/dep-1/activities/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodDelete, "/dependents/dep-1/activities/"+id, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat delete, got %d", rec.Code)
	}
}

func TestDeleteAllActivitiesEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()
	createTestActivity(t, handler, "dep-1")

	rec, _ := doJSON(t, handler, http.MethodDelete, "/dependents/dep-1/activities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec, _ = doJSON(t, handler, http.MethodDelete, "/dependents/unknown/activities", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown routine, got %d", rec.Code)
	}
}

func TestRoutineLogEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()
	createTestActivity(t, handler, "dep-1")

	rec, resp := doJSON(t, handler, http.MethodGet, "/dependents/dep-1/routine/log", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries, ok := resp.Result.([]interface{})
	if !ok || len(entries) != 1 {
		t.Fatalf("expected one log entry, got %+v", resp.Result)
	}
	entry := entries[0].(map[string]interface{})
	if entry["action"] != models.LogActionActivityCreated {
		t.Errorf("expected activity_created entry, got %+v", entry)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/dependents/unknown/routine/log", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown routine, got %d", rec.Code)
	}
}

func TestCaregiverAndDependentEndpoints(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()

	rec, resp := doJSON(t, handler, http.MethodPost, "/caregivers", map[string]interface{}{
		"name":  "Ana",
		"email": "ana@example.com",
		"phone": "+15550100",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	caregiverID := resp.Result.(map[string]interface{})["id"].(string)

	rec, resp = doJSON(t, handler, http.MethodPost, "/dependents", map[string]interface{}{
		"name": "João",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	dependentID := resp.Result.(map[string]interface{})["id"].(string)

	rec, _ = doJSON(t, handler, http.MethodPost, "/caregivers/"+caregiverID+"/dependents/"+dependentID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on link, got %d", rec.Code)
	}

	rec, resp = doJSON(t, handler, http.MethodGet, "/caregivers/"+caregiverID+"/dependents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	deps, ok := resp.Result.([]interface{})
	if !ok || len(deps) != 1 {
		t.Errorf("expected one linked dependent, got %+v", resp.Result)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/caregivers/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown caregiver, got %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/caregivers", map[string]interface{}{"name": "NoEmail"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for caregiver without email, got %d", rec.Code)
	}
}

func TestEmergencyProfileEndpoints(t *testing.T) {
	s, _, _, _ := newTestServer()
	handler := s.Handler()

	rec, _ := doJSON(t, handler, http.MethodPut, "/dependents/dep-1/emergency-profile", map[string]interface{}{
		"name":      "João",
		"age":       81,
		"allergies": "penicillin",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec, resp := doJSON(t, handler, http.MethodGet, "/dependents/dep-1/emergency-profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	profile := resp.Result.(map[string]interface{})
	if profile["name"] != "João" || profile["dependent_id"] != "dep-1" {
		t.Errorf("unexpected profile: %+v", profile)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/dependents/nobody/emergency-profile", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing profile, got %d", rec.Code)
	}
}

func TestEmergencyAlertEndpoints(t *testing.T) {
	s, n, _, _ := newTestServer()
	handler := s.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/alerts/emergency", map[string]interface{}{
		"caregiver_id": "care-1",
		"dependent_id": "dep-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	events := n.EventsFor("care-1")
	if len(events) != 1 || events[0].Event != models.EventEmergency {
		t.Fatalf("expected one emergency event on the caregiver channel, got %+v", events)
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/emergency/cancel", map[string]interface{}{
		"caregiver_id": "care-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if n.CountByEvent(models.EventEmergencyCancel) != 1 {
		t.Error("expected one emergency cancel event")
	}

	rec, _ = doJSON(t, handler, http.MethodPost, "/alerts/emergency", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without caregiver id, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
