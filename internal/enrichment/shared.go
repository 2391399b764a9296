package enrichment

import (
	"time"

	"github.com/google/uuid"
)

// nowFunc is indirected so tests can freeze time without a real clock
// dependency; stages never call time.Now directly.
var nowFunc = time.Now

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
