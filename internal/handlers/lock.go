package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/service"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK          = "ok"
	statusStarted     = "started"
	statusStopped     = "stopped"
	statusEngaged     = "engaged"
	statusDisengaged  = "disengaged"
	statusStabilized  = "stabilized"
	statusUnlocked    = "unlocked"
	statusFlagsSet    = "flags_set"
	statusQueued      = "queued"
	statusSetPointSet = "setpoint_set"

	errGetStatus       = "failed to load status"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// lockErrorCode maps service errors onto HTTP codes: rejected values are
// 400, requests the current loop state does not allow are 409.
func lockErrorCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrNotRunning),
		errors.Is(err, lock.ErrAlreadyRunning),
		errors.Is(err, lock.ErrQueueFull):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) lockError(c *gin.Context, logKey string, err error) {
	code := lockErrorCode(err)
	if code == http.StatusInternalServerError {
		h.logAndJSONError(c, code, "lock command failed", logKey, err, "operator", identity(c).Username)
		return
	}
	if h.log != nil {
		h.log.Infow(logKey, "err", err, "operator", identity(c).Username)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// Respond with a status and include the loop status.
func (h *Handler) respondWithStatus(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	if st, err := h.services.Monitoring.Status(c.Request.Context()); err == nil {
		resp["lock"] = st
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) runLockAction(c *gin.Context, status, logKey string, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		h.lockError(c, logKey, err)
		return
	}
	h.respondWithStatus(c, status, nil)
}

// FlagsRequest switches cavity tracking (fit) and laser feedback (lock).
type FlagsRequest struct {
	Fit  bool `json:"fit" example:"true"`
	Lock bool `json:"lock" example:"false"`
}

// GainRequest sets the feedback gain.
type GainRequest struct {
	Gain *float64 `json:"gain" binding:"required" example:"0.5"`
}

// ScanRequest changes the scan window; omitted fields keep their value.
type ScanRequest struct {
	// Full window width in volts
	Width *float64 `json:"width,omitempty" example:"0.3"`
	// Window centre in volts, used while free running
	Offset *float64 `json:"offset,omitempty" example:"3.0"`
	// Samples per half ramp
	Steps *int `json:"steps,omitempty" example:"100"`
}

// LaserVoltageRequest sets the manual laser target.
type LaserVoltageRequest struct {
	Volts *float64 `json:"volts" binding:"required" example:"1.25"`
}

// SetPointRequest overrides the locked peak separation.
type SetPointRequest struct {
	SetPoint *float64 `json:"set_point" binding:"required" example:"0.08"`
}

// TweakRequest nudges the laser while locked.
type TweakRequest struct {
	// up or down
	Direction string `json:"direction" binding:"required" example:"up"`
	Count     int    `json:"count" example:"1"`
}

func (h *Handler) bindOrBadRequest(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return false
	}
	return true
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Start the lock loop
// @Description  Starts sweeping in FREERUNNING with the last saved settings
// @Tags         lock
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, lock"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/lock/start [post]
// @Security     BearerAuth
func (h *Handler) startLock(c *gin.Context) {
	h.runLockAction(c, statusStarted, "lock_start_failed", h.services.Lock.Start)
}

// @Summary      Stop the lock loop
// @Description  Steps the laser to zero and releases the hardware
// @Tags         lock
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/lock/stop [post]
// @Security     BearerAuth
func (h *Handler) stopLock(c *gin.Context) {
	h.runLockAction(c, statusStopped, "lock_stop_failed", h.services.Lock.Stop)
}

// @Summary      Engage laser lock
// @Tags         lock
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/lock/engage [post]
// @Security     BearerAuth
func (h *Handler) engageLock(c *gin.Context) {
	h.runLockAction(c, statusEngaged, "lock_engage_failed", h.services.Lock.Engage)
}

// @Summary      Disengage laser lock
// @Tags         lock
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/lock/disengage [post]
// @Security     BearerAuth
func (h *Handler) disengageLock(c *gin.Context) {
	h.runLockAction(c, statusDisengaged, "lock_disengage_failed", h.services.Lock.Disengage)
}

// @Summary      Track the cavity peak
// @Tags         lock
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/lock/stabilize [post]
// @Security     BearerAuth
func (h *Handler) stabilizeCavity(c *gin.Context) {
	h.runLockAction(c, statusStabilized, "lock_stabilize_failed", h.services.Lock.Stabilize)
}

// @Summary      Return to free running
// @Tags         lock
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/lock/unlock [post]
// @Security     BearerAuth
func (h *Handler) unlockCavity(c *gin.Context) {
	h.runLockAction(c, statusUnlocked, "lock_unlock_failed", h.services.Lock.Unlock)
}

// @Summary      Set fit/lock flags
// @Description  lock=true requires fit=true
// @Tags         lock
// @Accept       json
// @Produce      json
// @Param        body  body   FlagsRequest  true  "Flags"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/lock/flags [put]
// @Security     BearerAuth
func (h *Handler) setFlags(c *gin.Context) {
	var req FlagsRequest
	if !h.bindOrBadRequest(c, &req) {
		return
	}
	flags := service.Flags{Fit: req.Fit, Lock: req.Lock}
	if err := h.services.Lock.SetFlags(c.Request.Context(), flags); err != nil {
		h.lockError(c, "lock_set_flags_failed", err)
		return
	}
	h.respondWithStatus(c, statusFlagsSet, gin.H{"flags": flags})
}

// @Summary      Set feedback gain
// @Tags         lock
// @Accept       json
// @Produce      json
// @Param        body  body   GainRequest  true  "Gain"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/lock/gain [put]
// @Security     BearerAuth
func (h *Handler) setGain(c *gin.Context) {
	var req GainRequest
	if !h.bindOrBadRequest(c, &req) {
		return
	}
	if err := h.services.Lock.SetGain(c.Request.Context(), *req.Gain); err != nil {
		h.lockError(c, "lock_set_gain_failed", err)
		return
	}
	h.respondWithStatus(c, statusQueued, gin.H{"gain": *req.Gain})
}

// @Summary      Change the scan window
// @Tags         lock
// @Accept       json
// @Produce      json
// @Param        body  body   ScanRequest  true  "Scan window"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/lock/scan [put]
// @Security     BearerAuth
func (h *Handler) setScan(c *gin.Context) {
	var req ScanRequest
	if !h.bindOrBadRequest(c, &req) {
		return
	}
	p := service.ScanParams{Width: req.Width, Offset: req.Offset, Steps: req.Steps}
	if err := h.services.Lock.SetScan(c.Request.Context(), p); err != nil {
		h.lockError(c, "lock_set_scan_failed", err)
		return
	}
	h.respondWithStatus(c, statusQueued, nil)
}

// @Summary      Set the manual laser voltage
// @Description  Ignored while the laser is locking or locked
// @Tags         lock
// @Accept       json
// @Produce      json
// @Param        body  body   LaserVoltageRequest  true  "Target voltage"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/lock/laser-voltage [put]
// @Security     BearerAuth
func (h *Handler) setLaserVoltage(c *gin.Context) {
	var req LaserVoltageRequest
	if !h.bindOrBadRequest(c, &req) {
		return
	}
	if err := h.services.Lock.SetLaserVoltage(c.Request.Context(), *req.Volts); err != nil {
		h.lockError(c, "lock_set_laser_voltage_failed", err)
		return
	}
	h.respondWithStatus(c, statusQueued, gin.H{"volts": *req.Volts})
}

// @Summary      Override the setpoint
// @Tags         lock
// @Accept       json
// @Produce      json
// @Param        body  body   SetPointRequest  true  "Setpoint"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/lock/setpoint [put]
// @Security     BearerAuth
func (h *Handler) setSetPoint(c *gin.Context) {
	var req SetPointRequest
	if !h.bindOrBadRequest(c, &req) {
		return
	}
	if err := h.services.Lock.SetSetPoint(c.Request.Context(), *req.SetPoint); err != nil {
		h.lockError(c, "lock_set_setpoint_failed", err)
		return
	}
	h.respondWithStatus(c, statusSetPointSet, gin.H{"set_point": *req.SetPoint})
}

// @Summary      Tweak the laser
// @Tags         lock
// @Accept       json
// @Produce      json
// @Param        body  body   TweakRequest  true  "Tweak"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/lock/tweak [post]
// @Security     BearerAuth
func (h *Handler) tweak(c *gin.Context) {
	var req TweakRequest
	if !h.bindOrBadRequest(c, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	p := service.TweakParams{Direction: req.Direction, Count: req.Count}
	if err := h.services.Lock.Tweak(c.Request.Context(), p); err != nil {
		h.lockError(c, "lock_tweak_failed", err)
		return
	}
	h.respondWithStatus(c, statusQueued, nil)
}

// @Summary      Get lock status
// @Tags         lock
// @Produce      json
// @Success      200  {object}  lock.Status
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/lock/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	st, err := h.services.Monitoring.Status(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetStatus, "lock_get_status_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
