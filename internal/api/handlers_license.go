package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"license-gateway/internal/license"
	"license-gateway/internal/logging"
	"license-gateway/internal/metrics"
)

type validateRequest struct {
	LicenseKey string `json:"license_key" binding:"required,notblank"`
	HWID       string `json:"hwid" binding:"required,notblank"`
	ProductID  string `json:"product_id"`
	IPAddress  string `json:"ip_address" binding:"omitempty,ip"`
}

type activateRequest struct {
	LicenseKey  string `json:"license_key" binding:"required,notblank"`
	HWID        string `json:"hwid" binding:"required,notblank"`
	MachineName string `json:"machine_name" binding:"max=255"`
	IPAddress   string `json:"ip_address" binding:"omitempty,ip"`
}

type deactivateRequest struct {
	LicenseKey string `json:"license_key" binding:"required,notblank"`
	HWID       string `json:"hwid" binding:"required,notblank"`
}

type heartbeatRequest struct {
	LicenseKey string `json:"license_key" binding:"required,notblank"`
	HWID       string `json:"hwid" binding:"required,notblank"`
	Status     string `json:"status"`
	IPAddress  string `json:"ip_address" binding:"omitempty,ip"`
}

type infoQuery struct {
	LicenseKey string `form:"license_key" binding:"required,notblank"`
}

// bind decodes the JSON body and writes the 400 response on failure
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logging.FromContext(c.Request.Context()).Debug().Err(err).Msg("rejected request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return false
	}
	return true
}

// fail writes the response for an error returned by the licensing core
func (s *Server) fail(c *gin.Context, op, licenseKey, hwid string, err error) {
	if errors.Is(err, license.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	logging.LicenseContext(c.Request.Context(), op, licenseKey, hwid).Error().Err(err).Msg("license operation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

// handleValidate decides whether a license may be used on a machine
func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if !bind(c, &req) {
		return
	}

	res, err := s.validator.Validate(c.Request.Context(), license.ValidateInput{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
		ProductID:  req.ProductID,
		IPAddress:  clientIP(c, req.IPAddress),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		s.metrics.Validations.WithLabelValues("error").Inc()
		s.fail(c, "validate", req.LicenseKey, req.HWID, err)
		return
	}

	s.metrics.Validations.WithLabelValues(metrics.Outcome(res.Valid, string(res.Reason))).Inc()
	if !res.Valid {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": res.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "license": res.License})
}

// handleActivate binds a machine to a license
func (s *Server) handleActivate(c *gin.Context) {
	var req activateRequest
	if !bind(c, &req) {
		return
	}

	res, err := s.manager.Activate(c.Request.Context(), license.ActivateInput{
		LicenseKey:  req.LicenseKey,
		HWID:        req.HWID,
		MachineName: req.MachineName,
		IPAddress:   clientIP(c, req.IPAddress),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		s.metrics.Activations.WithLabelValues("error").Inc()
		s.fail(c, "activate", req.LicenseKey, req.HWID, err)
		return
	}

	s.metrics.Activations.WithLabelValues(metrics.Outcome(res.Success, string(res.Reason))).Inc()
	if !res.Success {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": res.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"activation_id": res.ActivationID,
		"activated_at":  res.ActivatedAt.UTC().Format(time.RFC3339Nano),
		"message":       res.Message,
	})
}

// handleDeactivate releases the seat held by a machine
func (s *Server) handleDeactivate(c *gin.Context) {
	var req deactivateRequest
	if !bind(c, &req) {
		return
	}

	res, err := s.manager.Deactivate(c.Request.Context(), license.DeactivateInput{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
	})
	if err != nil {
		s.metrics.Deactivations.WithLabelValues("error").Inc()
		s.fail(c, "deactivate", req.LicenseKey, req.HWID, err)
		return
	}

	s.metrics.Deactivations.WithLabelValues(metrics.Outcome(res.Success, string(res.Reason))).Inc()
	if !res.Success {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": res.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": res.Message})
}

// handleInfo returns a license with its activations
func (s *Server) handleInfo(c *gin.Context) {
	var q infoQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	details, err := s.manager.Info(c.Request.Context(), q.LicenseKey)
	if errors.Is(err, license.ErrLicenseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": license.ReasonNotFound})
		return
	}
	if err != nil {
		s.fail(c, "info", q.LicenseKey, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": details})
}

// handleHeartbeat records a liveness signal from a running client
func (s *Server) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if !bind(c, &req) {
		return
	}

	res, err := s.manager.Heartbeat(c.Request.Context(), license.HeartbeatInput{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
		Status:     req.Status,
		IPAddress:  clientIP(c, req.IPAddress),
	})
	if err != nil {
		s.metrics.Heartbeats.WithLabelValues("error").Inc()
		s.fail(c, "heartbeat", req.LicenseKey, req.HWID, err)
		return
	}

	s.metrics.Heartbeats.WithLabelValues(metrics.Outcome(res.Success, string(res.Reason))).Inc()
	if !res.Success {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": res.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     license.MessageHeartbeatReceived,
		"server_time": res.ServerTime.UTC().Format(time.RFC3339Nano),
	})
}
