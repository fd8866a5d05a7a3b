// Package sandbox implements the per-chat sandbox state store (C4) and its
// provisioning workflow: serialize sandbox records, maintain the
// chat→sandbox index, refresh TTL on activity, and reconcile against live
// containers.
package sandbox

import "time"

// Sandbox is the durable record for one ephemeral per-chat workspace.
// It lives entirely in Redis (see Store); Postgres never sees it.
type Sandbox struct {
	ID                   string    `json:"id"`
	ContainerID          string    `json:"containerId"`
	UserID               string    `json:"userId"`
	ChatID               string    `json:"chatId"`
	ExpiresAt            time.Time `json:"expiresAt"`
	ScaffoldedFramework  string    `json:"scaffoldedFramework,omitempty"`
	RequestedPackages    []string  `json:"requestedPackages,omitempty"`
}

// DefaultTTL is the sandbox idle TTL absent an override from config.
const DefaultTTL = 30 * time.Minute
