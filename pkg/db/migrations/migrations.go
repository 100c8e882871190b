// Package migrations holds the run history schema, versioned with
// timestamps (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/jingkaihe/skillgate/pkg/db"
)

// All returns every migration. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20251019090000CreateRuns(),
		Migration20251019090001CreateRunTransitions(),
	}
}
