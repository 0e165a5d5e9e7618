package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity is one auditable record in the generic entity store. Attribute
// shapes are open-ended per entity type, so state lives in an attribute
// mapping rather than typed columns.
type Entity struct {
	ProjectID  uuid.UUID  `json:"project_id"`
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Attributes Attributes `json:"attributes"`
	Media      MediaRefs  `json:"media,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
