// Package syncer mirrors platform records into the vector store. Each
// sync pass replaces an entity's chunk set atomically: old chunks are
// deleted by filter and the fresh set is upserted, so a record never
// appears half-updated. A failed fetch leaves the previous index
// intact; stale context beats an empty one.
package syncer

import (
	"context"
	"strconv"

	"github.com/google/uuid"
)

// Source type labels, used as filter values in the vector store.
const (
	SourceProjects = "project"
	SourceTasks    = "task"
	SourceMessages = "message"
	SourceMembers  = "member"
)

// Document is one platform record rendered to indexable text.
type Document struct {
	SourceType string
	EntityID   string
	Title      string
	Body       string

	// Extra metadata carried alongside the provenance keys.
	Metadata map[string]string
}

// Fetcher loads all current records of one source for an organization.
type Fetcher interface {
	SourceType() string
	Fetch(ctx context.Context, organizationID string) ([]Document, error)
}

// chunkIDNamespace seeds deterministic chunk ids. The same
// organization, entity and chunk index always map to the same id, so
// repeated syncs overwrite rather than accumulate.
var chunkIDNamespace = uuid.MustParse("9f2c1f60-7a4e-4a53-9c3f-b1d9e3a0c514")

// ChunkID derives the stable vector id for one chunk of one entity.
func ChunkID(organizationID, sourceType, entityID string, chunkIndex int) string {
	name := organizationID + "/" + sourceType + "/" + entityID + "/" + strconv.Itoa(chunkIndex)
	return uuid.NewSHA1(chunkIDNamespace, []byte(name)).String()
}
