package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ClientRequest is the body of client create and update calls
type ClientRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

// CreateClient handles POST /api/v1/clients
func (h *Handlers) CreateClient(c *gin.Context) {
	var req ClientRequest
	if !bind(c, &req) {
		return
	}
	client, err := h.clients.Create(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusCreated, client)
}

// GetClient handles GET /api/v1/clients/:id
func (h *Handlers) GetClient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	client, err := h.clients.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, client)
}

// UpdateClient handles PUT /api/v1/clients/:id
func (h *Handlers) UpdateClient(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ClientRequest
	if !bind(c, &req) {
		return
	}
	client, err := h.clients.Update(c.Request.Context(), id, req.Name, req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, client)
}
