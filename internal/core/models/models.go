package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity repräsentiert einen registrierten Gast, der begrüßt werden kann
type Identity struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	DisplayName     string     `gorm:"not null" json:"displayName"`
	ProfileImageURL *string    `json:"profileImageUrl"`
	ConsentGiven    bool       `gorm:"index;not null" json:"consentGiven"`
	ConsentGivenAt  *time.Time `json:"consentGivenAt"`
	IsActive        bool       `gorm:"index;not null" json:"isActive"`
	BranchID        *string    `gorm:"index;size:64" json:"branchId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`

	Embeddings []FaceEmbedding `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE;" json:"-"`
}

// BeforeCreate vergibt eine UUID, falls noch keine ID gesetzt ist
func (i *Identity) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Eligible meldet, ob die Identität für den Abgleich freigegeben ist
func (i *Identity) Eligible() bool {
	return i.ConsentGiven && i.IsActive
}

// FaceEmbedding ist der aktuelle Gesichtsvektor einer Identität
type FaceEmbedding struct {
	ID           uint                         `gorm:"primaryKey" json:"id"`
	IdentityID   string                       `gorm:"index;not null;size:36" json:"identityId"`
	Vector       datatypes.JSONSlice[float32] `gorm:"not null" json:"-"`
	ModelVersion string                       `gorm:"size:64" json:"modelVersion"`
	CreatedAt    time.Time                    `json:"createdAt"`
}

// EventOutcome beschreibt das Ergebnis eines Erkennungsversuchs
type EventOutcome string

const (
	OutcomeGreeted    EventOutcome = "greeted"
	OutcomeUnmatched  EventOutcome = "unmatched"
	OutcomeSuppressed EventOutcome = "suppressed"
)

// RecognitionEvent ist ein unveränderlicher Eintrag im Erkennungsprotokoll
type RecognitionEvent struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID    *string      `gorm:"index:idx_recognition_events_identity_time,priority:1;size:36" json:"customerId"`
	CameraID      *string      `gorm:"index;size:128" json:"cameraId"`
	BranchID      *string      `gorm:"index;size:64" json:"branchId"`
	Confidence    *float64     `json:"confidence"`
	Matched       bool         `gorm:"not null" json:"matched"`
	GreetingShown bool         `gorm:"not null" json:"greetingShown"`
	Outcome       EventOutcome `gorm:"size:16;not null" json:"outcome"`
	OccurredAt    time.Time    `gorm:"index:idx_recognition_events_identity_time,priority:2;not null" json:"occurredAt"`

	// Customer wird beim Auflisten ergänzt und fehlt, wenn die Identität gelöscht wurde
	Customer *EventIdentity `gorm:"-" json:"customer,omitempty"`
}

// EventIdentity sind die Anzeigedaten einer Identität im Erkennungsprotokoll
type EventIdentity struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"displayName"`
	ProfileImageURL *string `json:"profileImageUrl,omitempty"`
}

// TableName legt den Tabellennamen fest
func (RecognitionEvent) TableName() string {
	return "recognition_events"
}
