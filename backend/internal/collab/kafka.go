package collab

import (
	"time"

	"pieceTableServer/backend/internal/ot/delta"
)

const (
	EventOpApplied = "OP_APPLIED"
	EventPersisted = "PERSISTED"
	EventClosed    = "CLOSED"
)

// DocOpEvent is published for every applied edit and every persist. Edits
// made through Insert and Delete are reported as deltas too.
type DocOpEvent struct {
	EventType    string      `json:"eventType"`
	DocID        string      `json:"docId"`
	OperationID  string      `json:"operationId,omitempty"`
	Revision     uint64      `json:"revision"`
	AuthorID     uint64      `json:"authorId,omitempty"`
	ClientID     string      `json:"clientId,omitempty"`
	ClientSeq    uint64      `json:"clientSeq,omitempty"` // 针对同一个 clientId 的“本地递增序号”
	BaseRevision uint64      `json:"baseRevision,omitempty"`
	Ops          delta.Delta `json:"ops,omitempty"`
	Length       int         `json:"length"`
	Target       string      `json:"target,omitempty"` // PERSISTED only
	AppliedAt    time.Time   `json:"appliedAt"`
}
