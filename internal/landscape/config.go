package landscape

import "time"

// Config holds the Landscape's Postgres connection and pool settings,
// mirroring tarsy's pkg/database.Config shape minus the Ent-specific
// fields (there is no Ent driver here — see DESIGN.md).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}
