package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"forks-project/handlers"
	"forks-project/logger"
	"forks-project/models"
	"forks-project/repository"
	"forks-project/routers"
)

type mockRepo struct {
	mu       sync.Mutex
	packages map[models.Slot]*models.PackageRecord
	err      error
}

func newMockRepo() *mockRepo {
	return &mockRepo{packages: make(map[models.Slot]*models.PackageRecord)}
}

func (m *mockRepo) PutPackage(rec *models.PackageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *rec
	m.packages[rec.Slot] = &copy
	return nil
}

func (m *mockRepo) GetPackage(slot models.Slot) (*models.PackageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.packages[slot]
	if !ok {
		return nil, repository.ErrPackageNotFound
	}
	copy := *rec
	return &copy, nil
}

func (m *mockRepo) GetLatestPackage() (*models.PackageRecord, error) {
	recs, err := m.ListPackages()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, repository.ErrPackageNotFound
	}
	return recs[len(recs)-1], nil
}

func (m *mockRepo) ListPackages() ([]*models.PackageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	res := make([]*models.PackageRecord, 0, len(m.packages))
	for _, rec := range m.packages {
		copy := *rec
		res = append(res, &copy)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Slot < res[j].Slot })
	return res, nil
}

func (m *mockRepo) DeletePackage(slot models.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.packages, slot)
	return nil
}

type staticStatus models.ForkStatus

func (s staticStatus) Status() models.ForkStatus { return models.ForkStatus(s) }

func testServer() (*mux.Router, *mockRepo) {
	logger.Logger = zap.NewNop()

	mockRepo := newMockRepo()
	var repoInterface repository.PackageRepositoryInterface = mockRepo
	status := staticStatus{Root: 40, HighestSlot: 72, Checkpoints: 33, Frozen: 32, Active: 1, LastSnapshotSlot: 32}
	handler := handlers.NewHandler(status, repoInterface)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router, mockRepo
}

func get(router *mux.Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestGetStatus(t *testing.T) {
	router, _ := testServer()

	res := get(router, "/status")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var status models.ForkStatus
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Root != 40 || status.HighestSlot != 72 || status.LastSnapshotSlot != 32 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestListSnapshots(t *testing.T) {
	router, mockRepo := testServer()
	mockRepo.PutPackage(&models.PackageRecord{Slot: 200, ArchivePath: "b.tar.zst"})
	mockRepo.PutPackage(&models.PackageRecord{Slot: 100, ArchivePath: "a.tar.zst"})

	res := get(router, "/snapshots")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var body struct {
		Count     int                     `json:"count"`
		Snapshots []*models.PackageRecord `json:"snapshots"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 2 || body.Snapshots[0].Slot != 100 || body.Snapshots[1].Slot != 200 {
		t.Fatalf("unexpected snapshots: %+v", body)
	}
}

func TestListSnapshots_Empty(t *testing.T) {
	router, _ := testServer()

	res := get(router, "/snapshots")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if snaps, ok := body["snapshots"].([]interface{}); !ok || len(snaps) != 0 {
		t.Fatalf("expected empty snapshot list, got %v", body["snapshots"])
	}
}

func TestGetLatestSnapshot(t *testing.T) {
	router, mockRepo := testServer()

	res := get(router, "/snapshots/latest")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 with no snapshots, got %d", res.Code)
	}

	mockRepo.PutPackage(&models.PackageRecord{Slot: 100})
	mockRepo.PutPackage(&models.PackageRecord{Slot: 300})

	res = get(router, "/snapshots/latest")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var rec models.PackageRecord
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.Slot != 300 {
		t.Fatalf("expected latest slot 300, got %d", rec.Slot)
	}
}

func TestGetSnapshot(t *testing.T) {
	router, mockRepo := testServer()
	mockRepo.PutPackage(&models.PackageRecord{Slot: 100, Compression: "zstd"})

	res := get(router, "/snapshots/100")
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var rec models.PackageRecord
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if rec.Slot != 100 || rec.Compression != "zstd" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if res := get(router, "/snapshots/101"); res.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing slot, got %d", res.Code)
	}
	if res := get(router, "/snapshots/abc"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid slot, got %d", res.Code)
	}
}

func TestSnapshots_RepositoryError(t *testing.T) {
	router, mockRepo := testServer()
	mockRepo.err = errors.New("leveldb: closed")

	if res := get(router, "/snapshots"); res.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", res.Code)
	}
	if res := get(router, "/snapshots/1"); res.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", res.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	router, _ := testServer()

	if res := get(router, "/healthz"); res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if res := get(router, "/metrics"); res.Code != http.StatusOK {
		t.Fatalf("expected status 200 from /metrics, got %d", res.Code)
	}
}
