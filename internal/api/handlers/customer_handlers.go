package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"guestgreet/internal/core/enrollment"
	"guestgreet/internal/core/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// MaxProfileImageBytes begrenzt die Größe hochgeladener Profilbilder
const MaxProfileImageBytes = 10 << 20

// CustomerHandler behandelt die Verwaltung registrierter Gäste
type CustomerHandler struct {
	service *enrollment.Service
}

// NewCustomerHandler erstellt einen neuen CustomerHandler
func NewCustomerHandler(service *enrollment.Service) *CustomerHandler {
	return &CustomerHandler{service: service}
}

// RegisterRoutes registriert alle Kunden-Routen
func (h *CustomerHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/enroll", h.Enroll)
	router.GET("", h.List)
	router.GET("/:id", h.Get)
	router.PATCH("/:id", h.Update)
	router.PUT("/:id/profile-image", h.ReplaceProfileImage)
	router.POST("/:id/revoke-consent", h.RevokeConsent)
	router.DELETE("/:id", h.Delete)
}

type customerResponse struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"displayName"`
	ProfileImageURL *string    `json:"profileImageUrl"`
	ConsentGiven    bool       `json:"consentGiven"`
	ConsentGivenAt  *time.Time `json:"consentGivenAt"`
	IsActive        bool       `json:"isActive"`
	BranchID        *string    `json:"branchId"`
	CreatedAt       time.Time  `json:"createdAt"`
	HasEmbedding    bool       `json:"hasEmbedding"`
}

func newCustomerResponse(identity *models.Identity, hasEmbedding bool) customerResponse {
	return customerResponse{
		ID:              identity.ID,
		DisplayName:     identity.DisplayName,
		ProfileImageURL: identity.ProfileImageURL,
		ConsentGiven:    identity.ConsentGiven,
		ConsentGivenAt:  identity.ConsentGivenAt,
		IsActive:        identity.IsActive,
		BranchID:        identity.BranchID,
		CreatedAt:       identity.CreatedAt,
		HasEmbedding:    hasEmbedding,
	}
}

type updateCustomerRequest struct {
	DisplayName *string `json:"displayName"`
	IsActive    *bool   `json:"isActive"`
	BranchID    *string `json:"branchId"`
}

// Enroll registriert einen neuen Gast mit Profilbild
func (h *CustomerHandler) Enroll(c *gin.Context) {
	image, ok := readProfileImage(c)
	if !ok {
		return
	}

	consent, _ := strconv.ParseBool(c.PostForm("consentGiven"))
	var branch *string
	if b := c.PostForm("branchId"); b != "" {
		branch = &b
	}

	identity, err := h.service.Enroll(c.Request.Context(), enrollment.EnrollRequest{
		DisplayName:  c.PostForm("displayName"),
		Image:        image,
		ConsentGiven: consent,
		BranchID:     branch,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	profileURL := ""
	if identity.ProfileImageURL != nil {
		profileURL = *identity.ProfileImageURL
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":              identity.ID,
		"displayName":     identity.DisplayName,
		"profileImageUrl": profileURL,
		"enrolledAt":      identity.CreatedAt,
		"message":         "Customer enrolled successfully with face recognition",
	})
}

// List liefert alle Gäste, optional gefiltert nach Filiale
func (h *CustomerHandler) List(c *gin.Context) {
	var branch *string
	if b := c.Query("branchId"); b != "" {
		branch = &b
	}

	ctx := c.Request.Context()
	identities, err := h.service.List(ctx, branch)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]customerResponse, 0, len(identities))
	for i := range identities {
		has, err := h.service.HasEmbedding(ctx, identities[i].ID)
		if err != nil {
			respondError(c, err)
			return
		}
		response = append(response, newCustomerResponse(&identities[i], has))
	}
	c.JSON(http.StatusOK, response)
}

// Get liefert einen einzelnen Gast
func (h *CustomerHandler) Get(c *gin.Context) {
	id, ok := customerID(c)
	if !ok {
		return
	}
	identity, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.respond(c, identity)
}

// Update ändert Name, Aktivstatus oder Filiale
func (h *CustomerHandler) Update(c *gin.Context) {
	id, ok := customerID(c)
	if !ok {
		return
	}
	var req updateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	identity, err := h.service.Update(c.Request.Context(), id, enrollment.UpdateRequest{
		DisplayName: req.DisplayName,
		IsActive:    req.IsActive,
		BranchID:    req.BranchID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.respond(c, identity)
}

// ReplaceProfileImage ersetzt Profilbild und Gesichtsvektor
func (h *CustomerHandler) ReplaceProfileImage(c *gin.Context) {
	id, ok := customerID(c)
	if !ok {
		return
	}
	image, ok := readProfileImage(c)
	if !ok {
		return
	}

	identity, err := h.service.ReplaceProfileImage(c.Request.Context(), id, image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCustomerResponse(identity, true))
}

// RevokeConsent widerruft die Einwilligung und löscht die Gesichtsdaten
func (h *CustomerHandler) RevokeConsent(c *gin.Context) {
	id, ok := customerID(c)
	if !ok {
		return
	}
	identity, err := h.service.RevokeConsent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCustomerResponse(identity, false))
}

// Delete löscht einen Gast mit allen Gesichtsdaten
func (h *CustomerHandler) Delete(c *gin.Context) {
	id, ok := customerID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CustomerHandler) respond(c *gin.Context, identity *models.Identity) {
	has, err := h.service.HasEmbedding(c.Request.Context(), identity.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCustomerResponse(identity, has))
}

// customerID prüft, dass die ID eine UUID ist
func customerID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		badRequest(c, "Invalid customer id")
		return "", false
	}
	return id, true
}

// readProfileImage liest das Formularfeld "profileImage"
func readProfileImage(c *gin.Context) ([]byte, bool) {
	header, err := c.FormFile("profileImage")
	if err != nil {
		badRequest(c, "profileImage is required")
		return nil, false
	}
	if header.Size > MaxProfileImageBytes {
		badRequest(c, fmt.Sprintf("profileImage must not exceed %d bytes", MaxProfileImageBytes))
		return nil, false
	}

	file, err := header.Open()
	if err != nil {
		log.WithError(err).Error("Failed to open uploaded profile image")
		badRequest(c, "Invalid profile image")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxProfileImageBytes+1))
	if err != nil {
		log.WithError(err).Error("Failed to read uploaded profile image")
		badRequest(c, "Invalid profile image")
		return nil, false
	}
	return data, true
}
