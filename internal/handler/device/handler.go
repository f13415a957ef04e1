package device

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/corelinkhq/platform-core/internal/handler"
	"github.com/corelinkhq/platform-core/internal/model"
	devicesvc "github.com/corelinkhq/platform-core/internal/service/device"
	apperrors "github.com/corelinkhq/platform-core/pkg/errors"
)

type Handler struct {
	svc *devicesvc.Service
}

func NewHandler(svc *devicesvc.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the device endpoints. Their scope policies are
// registered alongside in the router, keyed by the same route templates.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/devices", h.Create)
	rg.GET("/devices/:id", h.Get)
	rg.POST("/devices/:id/apps", h.InstallApp)
	rg.GET("/tenants/:tenantId/devices", h.ListByTenant)
	rg.GET("/users/:id/devices", h.ListByOwner)
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	device, err := h.svc.Register(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(device))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid device ID"))
		return
	}

	device, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok {
			c.JSON(appErr.StatusCode(), handler.NewErrorResponse(appErr.Message))
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(device))
}

func (h *Handler) InstallApp(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid device ID"))
		return
	}

	var req model.InstallAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	install, err := h.svc.InstallApp(c.Request.Context(), id, &req)
	if err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok {
			c.JSON(appErr.StatusCode(), handler.NewErrorResponse(appErr.Message))
			return
		}
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(install))
}

func (h *Handler) ListByTenant(c *gin.Context) {
	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	devices, err := h.svc.ListByTenant(c.Request.Context(), c.Param("tenantId"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(devices))
}

func (h *Handler) ListByOwner(c *gin.Context) {
	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	devices, err := h.svc.ListByOwner(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(devices))
}
