package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/returns"
	"pharmapos/internal/infrastructure/http/v1/dto"
	"pharmapos/internal/infrastructure/http/v1/middleware"
)

// ReturnsHandler serves the returns workflow for one sale at a time.
type ReturnsHandler struct {
	*BaseHandler
	service *returns.Service
}

func NewReturnsHandler(base *BaseHandler, service *returns.Service) *ReturnsHandler {
	return &ReturnsHandler{BaseHandler: base, service: service}
}

// RegisterRoutes mounts the handler under a /sales group.
func (h *ReturnsHandler) RegisterRoutes(sales *gin.RouterGroup) {
	sales.GET("/:saleId/returnable", h.Returnable)
	sales.POST("/:saleId/returns/preview", h.Preview)
	sales.POST("/:saleId/returns/commit", h.Commit)
	sales.GET("/:saleId/returns/ledger", h.Ledger)
}

// Returnable lists lines that still have quantity to return.
// GET /sales/:saleId/returnable
func (h *ReturnsHandler) Returnable(c *gin.Context) {
	saleID, ok := h.PathID(c, "saleId")
	if !ok {
		return
	}

	cat, err := h.service.ReturnableItems(c.Request.Context(), saleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCatalog(cat))
}

// Preview values the requested lines without writing.
// POST /sales/:saleId/returns/preview
func (h *ReturnsHandler) Preview(c *gin.Context) {
	saleID, ok := h.PathID(c, "saleId")
	if !ok {
		return
	}
	var req dto.PreviewReturnRequest
	if !h.BindJSON(c, &req) {
		return
	}
	items, err := dto.ToDomain(req.Items)
	if err != nil {
		h.Error(c, err)
		return
	}

	preview, warnings, err := h.service.Preview(c.Request.Context(), saleID, items)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromPreview(preview, warnings))
}

// Commit writes the requested lines. A partially applied commit answers 207
// and can be resumed by repeating the request with the same commit key.
// POST /sales/:saleId/returns/commit
func (h *ReturnsHandler) Commit(c *gin.Context) {
	saleID, ok := h.PathID(c, "saleId")
	if !ok {
		return
	}
	var req dto.CommitReturnRequest
	if !h.BindJSON(c, &req) {
		return
	}
	items, err := dto.ToDomain(req.Items)
	if err != nil {
		h.Error(c, err)
		return
	}

	commitKey := req.CommitKey
	if commitKey == "" {
		commitKey = c.GetHeader(middleware.HeaderIdempotencyKey)
	}
	if commitKey == "" {
		commitKey = id.New().String()
	}

	result, warnings, err := h.service.Commit(c.Request.Context(), saleID, commitKey, items)
	if err != nil {
		var partial *returns.PartialFailureError
		if errors.As(err, &partial) {
			middleware.ReleaseIdempotency(c)
			c.JSON(http.StatusMultiStatus, dto.FromPartialFailure(partial))
			return
		}
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromCommit(result, warnings))
}

// Ledger lists every record and link committed against the sale.
// GET /sales/:saleId/returns/ledger
func (h *ReturnsHandler) Ledger(c *gin.Context) {
	saleID, ok := h.PathID(c, "saleId")
	if !ok {
		return
	}

	ledger, err := h.service.Ledger(c.Request.Context(), saleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLedger(saleID, ledger))
}
