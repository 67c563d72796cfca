package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/fraud"
	"github.com/CloudReel/sentinel/internal/incident"
	"github.com/CloudReel/sentinel/internal/keys"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

type moderateRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	UserID      string `json:"userId"`
}

func (s *Server) handleModerate(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ContentType == "" {
		req.ContentType = "text"
	}
	result := s.moderator.Moderate(r.Context(), req.Content, req.ContentType, req.UserID)
	respondJSON(w, http.StatusOK, result)
}

type fraudAnalyzeRequest struct {
	UserID    string `json:"userId"`
	EventType string `json:"eventType"`
	Data      struct {
		IP                string          `json:"ip"`
		UserAgent         string          `json:"userAgent"`
		DeviceFingerprint string          `json:"deviceFingerprint"`
		Amount            float64         `json:"amount"`
		PaymentMethodRef  string          `json:"paymentMethodRef"`
		Location          *fraud.Location `json:"location"`
	} `json:"data"`
}

func (s *Server) handleFraudAnalyze(w http.ResponseWriter, r *http.Request) {
	var req fraudAnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result := s.fraud.Analyze(r.Context(), req.UserID, req.EventType, fraud.EventData{
		IP:                req.Data.IP,
		UserAgent:         req.Data.UserAgent,
		DeviceFingerprint: req.Data.DeviceFingerprint,
		Amount:            req.Data.Amount,
		PaymentMethodRef:  req.Data.PaymentMethodRef,
		Location:          req.Data.Location,
	})
	respondJSON(w, http.StatusOK, result)
}

type fraudSessionRequest struct {
	UserID  string `json:"userId"`
	Session struct {
		LoginTime       time.Time `json:"loginTime"`
		Country         string    `json:"country"`
		Device          string    `json:"device"`
		DurationSeconds int       `json:"durationSeconds"`
		PaymentAmount   float64   `json:"paymentAmount"`
		PaymentMethod   string    `json:"paymentMethod"`
	} `json:"session"`
}

func (s *Server) handleFraudSession(w http.ResponseWriter, r *http.Request) {
	var req fraudSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}
	err := s.fraud.UpdateProfile(r.Context(), req.UserID, fraud.SessionSummary{
		LoginTime:     req.Session.LoginTime,
		Country:       req.Session.Country,
		Device:        req.Session.Device,
		Duration:      time.Duration(req.Session.DurationSeconds) * time.Second,
		PaymentAmount: req.Session.PaymentAmount,
		PaymentMethod: req.Session.PaymentMethod,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleFraudEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	events, err := s.fraud.Events(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

type signRequest struct {
	Resource   string `json:"resource"`
	TTLSeconds int    `json:"ttlSeconds"`
}

func (s *Server) handleSignURL(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := s.keys.SignURL(r.Context(), req.Resource, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleValidateURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	claims, err := s.keys.Validate(r.Context(), req.Token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, keys.ErrInvalidToken)
		return
	}
	respondJSON(w, http.StatusOK, claims)
}

func (s *Server) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	key, err := s.keys.Rotate(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"keyId":     key.ID,
		"expiresAt": key.ExpiresAt,
	})
}

func (s *Server) handleEmergencyRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, errors.New("reason is required"))
		return
	}
	key, err := s.keys.EmergencyRotate(r.Context(), req.Reason)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"keyId":     key.ID,
		"expiresAt": key.ExpiresAt,
	})
}

func (s *Server) handleActiveKeys(w http.ResponseWriter, r *http.Request) {
	ids, err := s.keys.ActiveKeyIDs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"keyIds": ids})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := audit.Filters{
		UserID:   q.Get("user_id"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
		Category: audit.Category(q.Get("category")),
		Severity: audit.Severity(q.Get("severity")),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid from timestamp"))
			return
		}
		filters.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			respondError(w, http.StatusBadRequest, errors.New("invalid to timestamp"))
			return
		}
		filters.To = t
	}
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filters.Limit <= 0 {
		filters.Limit = 100
	}

	events, err := s.trail.Query(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

type reportRequest struct {
	Type        string    `json:"type"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	RequestedBy string    `json:"requestedBy"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.trail.GenerateComplianceReport(r.Context(), req.Type, req.From, req.To, req.RequestedBy)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.trail.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := time.Now()
	from := to.Add(-30 * 24 * time.Hour)
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	violations, err := s.trail.CheckViolations(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"violations": violations, "count": len(violations)})
}

func (s *Server) handleExportUserData(w http.ResponseWriter, r *http.Request) {
	export, err := s.trail.ExportUserData(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, export)
}

func (s *Server) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	var exceptions []string
	if v := r.URL.Query().Get("retain"); v != "" {
		exceptions = strings.Split(v, ",")
	}
	anonymized, err := s.trail.DeleteUserData(r.Context(), chi.URLParam(r, "userID"), exceptions)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"anonymized": anonymized})
}

type detectIncidentRequest struct {
	Type            string            `json:"type"`
	Severity        string            `json:"severity"`
	Description     string            `json:"description"`
	Source          string            `json:"source"`
	AffectedUsers   []string          `json:"affectedUsers"`
	AffectedIPs     []string          `json:"affectedIps"`
	AffectedSystems []string          `json:"affectedSystems"`
	Indicators      []string          `json:"indicators"`
	Metadata        map[string]string `json:"metadata"`
}

func (s *Server) handleDetectIncident(w http.ResponseWriter, r *http.Request) {
	var req detectIncidentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	inc, err := s.incidents.Detect(r.Context(), &incident.SecurityIncident{
		Type:            req.Type,
		Severity:        audit.Severity(req.Severity),
		Description:     req.Description,
		Source:          req.Source,
		AffectedUsers:   req.AffectedUsers,
		AffectedIPs:     req.AffectedIPs,
		AffectedSystems: req.AffectedSystems,
		Indicators:      req.Indicators,
		Metadata:        req.Metadata,
	})
	if err != nil {
		if errors.Is(err, incident.ErrInvalidIncident) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("incident reported via api",
		zap.String("incident_id", inc.ID),
		zap.String("type", inc.Type))
	respondJSON(w, http.StatusCreated, inc)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	incidents, err := s.incidents.Incidents(r.Context(), q.Get("status"), q.Get("type"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents, "count": len(incidents)})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.incidents.Incident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, incident.ErrIncidentNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (s *Server) handleIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status      string `json:"status"`
		Note        string `json:"note"`
		PerformedBy string `json:"performedBy"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	inc, err := s.incidents.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Note, req.PerformedBy)
	if err != nil {
		switch {
		case errors.Is(err, incident.ErrIncidentNotFound):
			respondError(w, http.StatusNotFound, err)
		case errors.Is(err, incident.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (s *Server) handleIncidentAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action     string            `json:"action"`
		Parameters map[string]string `json:"parameters"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action == "" {
		respondError(w, http.StatusBadRequest, errors.New("action is required"))
		return
	}
	inc, err := s.incidents.RunAction(r.Context(), chi.URLParam(r, "id"), req.Action, req.Parameters)
	if err != nil {
		if errors.Is(err, incident.ErrIncidentNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}
