// Package user manages account records and their dietary profiles.
package user

import (
	"time"

	"github.com/google/uuid"
)

// User is an account row. ExternalID is the identity provider's subject and
// the key API callers authenticate as; ID is the internal key the rest of the
// system references.
type User struct {
	ID           uuid.UUID      `json:"id"`
	ExternalID   string         `json:"externalId"`
	Email        string         `json:"email"`
	DietaryPrefs map[string]any `json:"dietaryPrefs"`
	Restrictions []string       `json:"restrictions"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}
