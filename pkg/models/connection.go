package models

import (
	"time"

	"github.com/google/uuid"
)

// Connection is a warehouse endpoint owned by the platform's connection
// subsystem. The engine only reads connections: Config arrives encrypted at
// rest and is decrypted by the service layer before dialing.
type Connection struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	ConnectionType string         `json:"connection_type"` // "postgres", "mssql"
	Config         map[string]any `json:"-"`               // Decrypted connection details, never serialized
	Status         string         `json:"status"`          // "ready", "error", "pending"
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
