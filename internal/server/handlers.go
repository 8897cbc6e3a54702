package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noctua-health/somnia/internal/audit"
	"github.com/noctua-health/somnia/internal/backup"
	"github.com/noctua-health/somnia/internal/logger"
	"github.com/noctua-health/somnia/internal/store"
	"github.com/noctua-health/somnia/models"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db, err := s.conn.HealthCheck(r.Context())
	if err != nil {
		logger.FromRequest(r).Error().Err(err).Msg("health check failed")
	}

	body := map[string]any{
		"database": db,
		"engine":   s.conn.Type(),
	}
	if s.scheduler != nil {
		body["backups"] = s.scheduler.Health()
	}

	status := http.StatusOK
	if !db.Connected {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, body)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	records, err := s.backups.Metadata().List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []models.BackupMetadata{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = models.BackupTierManual
	}
	switch tier {
	case models.BackupTierDaily, models.BackupTierWeekly, models.BackupTierMonthly, models.BackupTierManual:
	default:
		respondError(w, http.StatusBadRequest, errors.New("unknown backup tier"))
		return
	}

	if s.scheduler != nil {
		result := s.scheduler.RunTier(r.Context(), tier)
		status := http.StatusCreated
		if !result.Success {
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, result)
		return
	}

	record, err := s.backups.Create(r.Context(), tier)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

func (s *Server) handleVerifyBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var err error
	if s.scheduler != nil {
		err = s.scheduler.VerifySnapshot(r.Context(), id)
	} else {
		err = s.backups.Verify(r.Context(), id)
	}
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"id": id, "valid": true})
	case errors.Is(err, backup.ErrBackupNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, backup.ErrChecksumInvalid):
		respondJSON(w, http.StatusOK, map[string]any{"id": id, "valid": false, "error": err.Error()})
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	filters := audit.QueryFilters{
		Action:     models.AuditAction(r.URL.Query().Get("action")),
		EntityType: r.URL.Query().Get("entity_type"),
		IP:         r.URL.Query().Get("ip"),
		Limit:      100,
	}

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid user_id"))
			return
		}
		filters.UserID = &id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		filters.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid offset"))
			return
		}
		filters.Offset = offset
	}
	var err error
	if filters.From, filters.To, err = parseDateRange(r); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := s.auditor.Query(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := s.auditor.GetStats(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func parseDateRange(r *http.Request) (from, to time.Time, err error) {
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return from, to, errors.New("invalid from timestamp")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return from, to, errors.New("invalid to timestamp")
		}
	}
	return from, to, nil
}

func (s *Server) handleExportUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	export, err := s.privacy.ExportUserData(r.Context(), id)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, export)
	case errors.Is(err, store.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, errors.New("user not found"))
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	result, err := s.privacy.EraseUserData(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
