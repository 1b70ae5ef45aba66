// Package model defines the core memory record and verdict types.
package model

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a memory record.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusRetired  Status = "retired"
)

// ErrInvalidTransition is returned when a lifecycle transition moves backward.
var ErrInvalidTransition = fmt.Errorf("invalid status transition")

// ValidStatuses are the allowed lifecycle states.
var ValidStatuses = map[Status]bool{
	StatusActive:   true,
	StatusArchived: true,
	StatusRetired:  true,
}

// CanTransition reports whether moving from s to next is allowed.
// Lifecycle only moves forward: active→archived, archived→retired,
// active→retired. Retired is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusArchived || next == StatusRetired
	case StatusArchived:
		return next == StatusRetired
	default:
		return false
	}
}

// Transition validates and returns the next status.
func (s Status) Transition(next Status) (Status, error) {
	if !ValidStatuses[next] {
		return s, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// Memory is one persisted free-text record, the atomic unit under maintenance.
type Memory struct {
	ID               string    `json:"id"`
	Content          string    `json:"content"`
	Topic            string    `json:"topic,omitempty"`
	SourceType       string    `json:"source_type,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Importance       float64   `json:"importance"`
	Confidence       float64   `json:"confidence"`
	Tags             []string  `json:"tags,omitempty"`
	Status           Status    `json:"status"`
	WorldviewVersion string    `json:"worldview_version,omitempty"`
	RetireReason     string    `json:"retire_reason,omitempty"`
	CreatedAt        int64     `json:"created_at"`
	UpdatedAt        int64     `json:"updated_at"`
}

// NewID mints a ULID for a new memory record.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Action is the outcome of assessing one record.
type Action string

const (
	ActionKeep    Action = "keep"
	ActionRewrite Action = "rewrite"
	ActionDelete  Action = "delete"
)

// Verdict is the per-record decision produced by the verdict engine.
// Created fresh per assessment and never persisted; only its effects are.
type Verdict struct {
	Action           Action
	Confidence       float64
	RiskProbability  float64
	Reasons          []string
	RewrittenContent string
	Priority         string // high, medium, low
}

// Rewrite is one content replacement in a reconciliation plan.
type Rewrite struct {
	ID         string
	NewContent string
}

// Deletion is one removal in a reconciliation plan, with its audit reason.
type Deletion struct {
	ID     string
	Reason string
}

// Archive is one active→archived transition in a reconciliation plan.
type Archive struct {
	ID     string
	Reason string
}

// PlanStats summarizes a full reconstruction pass.
type PlanStats struct {
	Total             int
	Kept              int
	Rewritten         int
	Deleted           int
	HighPriority      int
	AverageConfidence float64 // over kept records only
	DeletionRate      float64
}

// ReconciliationPlan is the diff a reconstruction pass produces. The
// reconstructor never mutates storage; the applier commits the plan.
type ReconciliationPlan struct {
	Rewrites  []Rewrite
	Deletions []Deletion
	Archives  []Archive
	Stats     PlanStats
}
