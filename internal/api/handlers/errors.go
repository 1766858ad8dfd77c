package handlers

import (
	"context"
	"errors"
	"net/http"

	"guestgreet/internal/core/enrollment"
	"guestgreet/internal/core/processor"
	"guestgreet/internal/core/recognition"
	"guestgreet/internal/integrations/facerecognition"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// retryAfterSeconds wird bei nicht erreichbarem Gesichtsdienst als Retry-After gesendet
const retryAfterSeconds = "5"

// respondError bildet Fehler der Fachschicht auf HTTP-Statuscodes ab
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, facerecognition.ErrServiceUnavailable),
		errors.Is(err, processor.ErrPoolClosed),
		errors.Is(err, context.DeadlineExceeded):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Face recognition service is currently unavailable"})

	case errors.Is(err, enrollment.ErrIdentityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})

	case errors.Is(err, enrollment.ErrConsentRequired),
		errors.Is(err, enrollment.ErrNoFaceDetected),
		errors.Is(err, enrollment.ErrMultipleFacesDetected),
		errors.Is(err, enrollment.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, context.Canceled):
		// Client hat die Verbindung beendet
		c.AbortWithStatus(499)

	case errors.Is(err, recognition.ErrIdentityNotFound):
		log.WithError(err).Error("Recognition returned an unknown identity")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})

	default:
		log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
