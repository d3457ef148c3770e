package agent

import (
	"time"

	"github.com/m-mizutani/seeker/pkg/model"
)

const (
	DefaultStepBudget = 3
	DefaultTopK       = 3
)

// Config tunes an agent run
type Config struct {
	// StepBudget is the maximum number of loop iterations
	StepBudget int
	// TopK is the number of memory items retrieved per step
	TopK int
	// StepTimeout bounds one iteration. Zero disables the deadline.
	StepTimeout time.Duration
	// NewSessionID derives a session id when the caller does not supply one
	NewSessionID func() model.SessionID
}

func (c Config) withDefaults() Config {
	if c.StepBudget <= 0 {
		c.StepBudget = DefaultStepBudget
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.NewSessionID == nil {
		c.NewSessionID = func() model.SessionID {
			return model.NewSessionID(time.Now())
		}
	}
	return c
}
