package ports

import (
	"context"
	"time"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
)

// CycleEvent is published when a cycle finishes.
type CycleEvent struct {
	CycleID    string             `json:"cycleId"`
	Entity     domain.EntityType  `json:"entity"`
	Status     domain.CycleStatus `json:"status"`
	Trigger    domain.Trigger     `json:"trigger"`
	Schedule   domain.Schedule    `json:"schedule,omitempty"`
	Day        string             `json:"day"`
	Snapshot   bool               `json:"snapshot"`
	Written    int                `json:"written"`
	Failed     int                `json:"failed"`
	Conflicts  int                `json:"conflicts"`
	Kinds      []string           `json:"kinds,omitempty"`
	Error      string             `json:"error,omitempty"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// EventFromResult builds the event published for r.
func EventFromResult(r *domain.SyncResult) CycleEvent {
	return CycleEvent{
		CycleID:    r.CycleID,
		Entity:     r.Entity,
		Status:     r.Status(),
		Trigger:    r.Trigger,
		Schedule:   r.Schedule,
		Day:        r.Day,
		Snapshot:   r.Snapshot,
		Written:    r.Written,
		Failed:     r.Failed,
		Conflicts:  len(r.Conflicts),
		Kinds:      r.FailureKinds(),
		Error:      r.Err,
		FinishedAt: r.FinishedAt,
	}
}

// Notifier delivers cycle outcomes to operators.
type Notifier interface {
	Publish(ctx context.Context, event CycleEvent) error
}
