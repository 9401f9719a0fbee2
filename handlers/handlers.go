package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"forks-project/logger"
	"forks-project/models"
	"forks-project/repository"
)

// StatusProvider returns the latest published fork table status
type StatusProvider interface {
	Status() models.ForkStatus
}

// Handler contains the HTTP handlers for the operator API endpoints
type Handler struct {
	Status   StatusProvider
	Packages repository.PackageRepositoryInterface
}

// NewHandler creates and returns a new Handler instance
func NewHandler(status StatusProvider, packages repository.PackageRepositoryInterface) *Handler {
	return &Handler{Status: status, Packages: packages}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// GetStatus handles GET requests for the current root, highest slot and snapshot marks
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Status.Status())
}

// ListSnapshots handles GET requests for every catalogued snapshot archive, oldest first
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Packages.ListPackages()
	if err != nil {
		logger.Logger.Error("Failed to list snapshot packages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*models.PackageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(recs),
		"snapshots": recs,
	})
}

// GetLatestSnapshot handles GET requests for the newest snapshot archive
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Packages.GetLatestPackage()
	h.writePackage(w, rec, err)
}

// GetSnapshot handles GET requests for the snapshot archive of one slot
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.ParseUint(mux.Vars(r)["slot"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot")
		return
	}
	rec, err := h.Packages.GetPackage(slot)
	h.writePackage(w, rec, err)
}

func (h *Handler) writePackage(w http.ResponseWriter, rec *models.PackageRecord, err error) {
	if errors.Is(err, repository.ErrPackageNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logger.Logger.Error("Failed to get snapshot package", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Healthz reports that the process is serving requests
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
