package handlers

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/service"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// live status, traces and notices
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.operatorIdentity)
	{
		h.registerLockRoutes(api)
		h.registerLogRoutes(api)
		h.registerArchiveRoutes(api)
	}
}

func (h *Handler) registerLockRoutes(api *gin.RouterGroup) {
	lk := api.Group("/lock")
	{
		lk.GET("/status", h.getStatus)
	}

	cmd := lk.Group("", h.requireOperator)
	{
		cmd.POST("/start", h.startLock)
		cmd.POST("/stop", h.stopLock)
		cmd.POST("/engage", h.engageLock)
		cmd.POST("/disengage", h.disengageLock)
		cmd.POST("/stabilize", h.stabilizeCavity)
		cmd.POST("/unlock", h.unlockCavity)

		cmd.PUT("/flags", h.setFlags)
		cmd.PUT("/gain", h.setGain)
		// Body example: {"width":0.3,"offset":3.0,"steps":100}
		cmd.PUT("/scan", h.setScan)
		cmd.PUT("/laser-voltage", h.setLaserVoltage)
		cmd.PUT("/setpoint", h.setSetPoint)
		cmd.POST("/tweak", h.tweak)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("", h.getLogs)
	}
}

func (h *Handler) registerArchiveRoutes(api *gin.RouterGroup) {
	ar := api.Group("/archive")
	{
		ar.POST("", h.requireOperator, h.storeArchive)
		ar.GET("", h.listArchive)
		ar.GET("/:id", h.getArchive)
	}
}
