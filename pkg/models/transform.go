package models

import (
	"time"

	"github.com/google/uuid"
)

// TransformColumn is one entry of a transform's ordered output column list.
type TransformColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Transform is a named, externally materialized query result treated as a
// virtual table. The transform runtime owns these rows; the engine reads
// them to resolve transform sources and join targets. OutputSchema and
// OutputTable identify the materialized relation on the warehouse.
type Transform struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	OutputSchema string            `json:"output_schema,omitempty"`
	OutputTable  string            `json:"output_table"`
	Columns      []TransformColumn `json:"columns"`
	Status       string            `json:"status"` // "ready", "building", "error"
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
