package handlers

import (
	"regexp"

	"github.com/gin-gonic/gin"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/numerator"
	"pharmapos/internal/infrastructure/http/v1/dto"
)

var prefixPattern = regexp.MustCompile(`^[A-Z]{2,8}$`)

// SequenceHandler hands out operator-scoped identifiers to intake flows.
type SequenceHandler struct {
	*BaseHandler
	allocator numerator.Allocator
	configFor func(prefix string) numerator.Config
}

// NewSequenceHandler creates the handler. configFor supplies the allocator
// settings for a prefix.
func NewSequenceHandler(base *BaseHandler, allocator numerator.Allocator, configFor func(prefix string) numerator.Config) *SequenceHandler {
	if configFor == nil {
		configFor = numerator.DefaultConfig
	}
	return &SequenceHandler{BaseHandler: base, allocator: allocator, configFor: configFor}
}

// Allocate reserves the next identifier for the operator.
// POST /sequences/:prefix/allocate
func (h *SequenceHandler) Allocate(c *gin.Context) {
	prefix := c.Param("prefix")
	if !prefixPattern.MatchString(prefix) {
		h.Error(c, apperror.NewFieldValidation("prefix", "must be 2 to 8 upper-case letters"))
		return
	}
	operator := h.GetUserID(c)
	if operator == "" {
		h.Error(c, apperror.NewUnauthorized("operator required"))
		return
	}

	seq, err := h.allocator.Allocate(c.Request.Context(), h.configFor(prefix), numerator.Scope{
		Prefix: prefix,
		UserID: operator,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.SequenceResponse{
		Identifier: seq.Identifier,
		Value:      seq.Value,
		Fallback:   seq.Fallback,
	})
}
