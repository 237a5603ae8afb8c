package domain

import "fmt"

// EntityKind distinguishes the two addressable entity types. It is a closed
// enum: the resolver and display-id allocator switch exhaustively over it.
type EntityKind string

const (
	KindItem   EntityKind = "item"
	KindWorker EntityKind = "worker"
)

// DisplayPrefix returns the marker used in short ids, e.g. T-12 or W-3.
func (k EntityKind) DisplayPrefix() string {
	switch k {
	case KindItem:
		return "T"
	case KindWorker:
		return "W"
	}
	return "?"
}

// FormatDisplayID renders a display id in its canonical short form.
func FormatDisplayID(kind EntityKind, n int64) string {
	return fmt.Sprintf("%s-%d", kind.DisplayPrefix(), n)
}

// Work item statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusReview     = "review"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Worker statuses.
const (
	WorkerIdle    = "idle"
	WorkerWorking = "working"
	WorkerBlocked = "blocked"
	WorkerOffline = "offline"
)

// Priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ItemStatuses lists all valid work item statuses.
func ItemStatuses() []string {
	return []string{StatusPending, StatusInProgress, StatusBlocked, StatusReview, StatusCompleted, StatusCancelled}
}

// ValidItemStatus reports whether s names a work item status.
func ValidItemStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusReview, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidPriority reports whether p names a priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TerminalStatus reports whether a work item status admits no further
// transitions.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// WorkItem is a unit of work. ID is the stable internal identifier;
// DisplayID is the sequential human-typed one.
type WorkItem struct {
	ID               string   `json:"id"`
	DisplayID        int64    `json:"display_id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Status           string   `json:"status" enum:"pending,in_progress,blocked,review,completed,cancelled"`
	Priority         string   `json:"priority" enum:"low,medium,high,critical"`
	ParentID         *string  `json:"parent_id,omitempty"`
	Epic             string   `json:"epic,omitempty"`
	AssignedWorkerID *string  `json:"assigned_worker_id,omitempty"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
	ActualMinutes    *int     `json:"actual_minutes,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
	CompletedAt      *string  `json:"completed_at,omitempty" format:"date-time"`
	DependsOn        []string `json:"depends_on,omitempty"`
}

// Ref returns the item's short display form, e.g. T-12.
func (w WorkItem) Ref() string { return FormatDisplayID(KindItem, w.DisplayID) }

// Worker is a registered agent or human that claims work items.
type Worker struct {
	ID            string  `json:"id"`
	DisplayID     int64   `json:"display_id"`
	Name          string  `json:"name"`
	Status        string  `json:"status" enum:"idle,working,blocked,offline"`
	CurrentItemID *string `json:"current_item_id,omitempty"`
	LastActiveAt  string  `json:"last_active_at" format:"date-time"`
}

// Ref returns the worker's short display form, e.g. W-3.
func (w Worker) Ref() string { return FormatDisplayID(KindWorker, w.DisplayID) }

// Dependency is a directed depends-on edge between two work items.
type Dependency struct {
	ItemID      string `json:"item_id"`
	DependsOnID string `json:"depends_on_id"`
}

// AcceptanceCriterion is one checklist entry on a work item. Position is
// 1-based and unique per item.
type AcceptanceCriterion struct {
	ItemID      string  `json:"item_id"`
	Position    int     `json:"position"`
	Text        string  `json:"text"`
	Completed   bool    `json:"completed"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// AuditEntry is one append-only record of a state mutation.
type AuditEntry struct {
	ID       int64   `json:"id"`
	ItemID   *string `json:"item_id,omitempty"`
	WorkerID *string `json:"worker_id,omitempty"`
	Action   string  `json:"action"`
	Details  string  `json:"details,omitempty"`
	TS       string  `json:"ts" format:"date-time"`
}

// EntityRef is the resolver's result: a canonical identity for a token.
type EntityRef struct {
	Kind      EntityKind `json:"kind"`
	ID        string     `json:"id"`
	DisplayID int64      `json:"display_id"`
	Name      string     `json:"name,omitempty"`
}

// Ref returns the short display form of the referenced entity.
func (r EntityRef) Ref() string { return FormatDisplayID(r.Kind, r.DisplayID) }

// EpicSummary aggregates item counts for one epic label.
type EpicSummary struct {
	Epic       string `json:"epic"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	InProgress int    `json:"in_progress"`
	Pending    int    `json:"pending"`
}

// Stats is the aggregate snapshot consumed by the dashboard and stats verbs.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	ByPriority   map[string]int `json:"by_priority"`
	ReadyCount   int            `json:"ready_count"`
	WorkerCounts map[string]int `json:"worker_counts"`
}
