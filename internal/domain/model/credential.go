package model

import "time"

// Credential is a stored backend token. Service names a backend ("github") or
// a self-hosted instance of one ("gitlab:gitlab.example.com").
type Credential struct {
	ID        int64
	Service   string
	Value     string
	UpdatedAt time.Time
}
