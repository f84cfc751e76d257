package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrInvalidTracking = errors.New("invalid lot tracking")

// LotTracking makes snapshot cycles of a table mark the lots that are still
// active (in progress or in production) and release the others.
type LotTracking struct {
	Kind       string
	LotField   string
	StateField string
	Active     []string
}

func (t *LotTracking) validate(fields map[string]struct{}) error {
	if strings.TrimSpace(t.Kind) == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidTracking)
	}
	for _, name := range []string{t.LotField, t.StateField} {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w %q: field %q is not mapped", ErrInvalidTracking, t.Kind, name)
		}
	}
	if len(t.Active) == 0 {
		return fmt.Errorf("%w %q: no active states", ErrInvalidTracking, t.Kind)
	}
	return nil
}

// LotUpdate is the marker change produced by one snapshot cycle.
type LotUpdate struct {
	Entity   EntityType
	Kind     string
	CycleID  string
	At       time.Time
	Active   []string
	Released []string
}

// Empty reports whether the update changes nothing.
func (u LotUpdate) Empty() bool { return len(u.Active) == 0 && len(u.Released) == 0 }

// Update splits records into active and released lot codes. Records without a
// lot code are ignored; a lot seen active in any record stays active.
func (t *LotTracking) Update(entity EntityType, cycleID string, at time.Time, records []*TargetRecord) LotUpdate {
	update := LotUpdate{Entity: entity, Kind: t.Kind, CycleID: cycleID, At: at}
	state := map[string]bool{}
	var order []string
	for _, r := range records {
		lot, ok := r.Value(t.LotField)
		if !ok || lot.Null {
			continue
		}
		code := strings.TrimSpace(lot.KeyString())
		if code == "" {
			continue
		}
		s, _ := r.Value(t.StateField)
		active := !s.Null && slices.Contains(t.Active, strings.TrimSpace(s.KeyString()))
		if _, seen := state[code]; !seen {
			order = append(order, code)
		}
		state[code] = state[code] || active
	}
	for _, code := range order {
		if state[code] {
			update.Active = append(update.Active, code)
		} else {
			update.Released = append(update.Released, code)
		}
	}
	return update
}

// TrackedLot is a lot marked active by the latest snapshot that saw it.
type TrackedLot struct {
	Kind    string
	LotCode string
	Entity  EntityType
	CycleID string
	Since   time.Time
}
