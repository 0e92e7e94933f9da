package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"crmsync/internal/models"
	"crmsync/internal/services"
)

type ClientHandler struct {
	Service *services.ClientService
}

type clientRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func NewClientHandler(service *services.ClientService) *ClientHandler {
	return &ClientHandler{Service: service}
}

func (h *ClientHandler) Create(c *gin.Context) {
	h.save(c, uuid.Nil, http.StatusCreated)
}

func (h *ClientHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	h.save(c, id, http.StatusOK)
}

func (h *ClientHandler) save(c *gin.Context, id uuid.UUID, status int) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	client := &models.Client{ID: id, Name: req.Name, Phone: req.Phone, Email: req.Email}
	if err := h.Service.Upsert(c.Request.Context(), sess, client); err != nil {
		respondError(c, err)
		return
	}
	saved, err := h.Service.Get(c.Request.Context(), sess, client.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, saved)
}

func (h *ClientHandler) GetByID(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	client, err := h.Service.Get(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}
