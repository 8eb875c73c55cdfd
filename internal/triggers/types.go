// Package triggers is the tenant-scoped registry of trigger definitions.
package triggers

import (
	"time"

	"github.com/nudgehq/nudge/internal/schedule"
)

// SourceType identifies who a trigger was registered for.
type SourceType string

const (
	SourceUser   SourceType = "USER"
	SourceGroup  SourceType = "GROUP"
	SourceGlobal SourceType = "GLOBAL"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceUser, SourceGroup, SourceGlobal:
		return true
	}
	return false
}

// Status is the lifecycle status of a trigger.
type Status string

const (
	StatusActive          Status = "ACTIVE"
	StatusPaused          Status = "PAUSED"
	StatusPendingActivate Status = "PENDING_ACTIVATE"
	StatusCanceled        Status = "CANCELED"
	StatusExpired         Status = "EXPIRED"
	StatusFinished        Status = "FINISHED"
)

func (s Status) Valid() bool {
	_, ok := domainToStored[s]
	return ok
}

// Terminal reports whether s can never be left again.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired || s == StatusFinished
}

// Definition is a schedulable unit of work.
type Definition struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	SourceType  SourceType
	SourceID    string

	Mode  schedule.Mode
	Value string

	ExecuteFunction   string
	ConditionFunction string
	AbandonFunction   string

	// CodeSnapshot maps function names to the source captured at
	// registration, so later edits to shared code do not change behavior.
	CodeSnapshot map[string]string
	Parameters   map[string]any
	Options      Options

	Status      Status
	ExpireAt    *time.Time
	NextFireAt  *time.Time
	LastFiredAt *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
