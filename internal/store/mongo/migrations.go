package mongo

import "embed"

// MigrationsFS carries the golang-migrate JSON migrations shipped in the
// binary. The token menu seed is required once per deployment; the index
// migration is advisory, since EnsureIndexes runs at every backend startup
// and remains authoritative.
//
//go:embed migrations/*.json
var MigrationsFS embed.FS
