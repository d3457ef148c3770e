package model

import (
	"fmt"
	"time"
)

// SessionID scopes memory retrieval to one agent run
type SessionID string

// NewSessionID derives a session ID from the given time
func NewSessionID(now time.Time) SessionID {
	return SessionID(fmt.Sprintf("session-%d", now.Unix()))
}

type OutcomeStatus string

const (
	OutcomeFinished  OutcomeStatus = "finished"
	OutcomeExhausted OutcomeStatus = "exhausted"
	OutcomeAborted   OutcomeStatus = "aborted"
)

// Outcome is the terminal state of an agent run
type Outcome struct {
	SessionID   SessionID
	Status      OutcomeStatus
	Answer      string
	Steps       int
	Invocations []*ToolInvocationResult
}

// Finished reports whether the run produced a final answer
func (x *Outcome) Finished() bool {
	return x != nil && x.Status == OutcomeFinished
}
