package model

import (
	"time"

	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

type MemoryType string

const (
	MemoryTypePerception MemoryType = "perception"
	MemoryTypeToolOutput MemoryType = "tool_output"
)

// MemoryItem is one remembered fact of an agent session. It is never mutated
// after it has been added to a memory store.
type MemoryItem struct {
	ID        MemoryID
	Text      string
	Type      MemoryType
	ToolName  string
	UserQuery string
	Tags      []string
	SessionID SessionID
	CreatedAt time.Time

	// Seq is the insertion ordinal within the session, assigned by the store
	Seq int64
}
