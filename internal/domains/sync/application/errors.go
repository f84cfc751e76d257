package application

import (
	"errors"
	"fmt"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/mapping"
)

var (
	// ErrUnknownEntity signals that no mapping table is registered for the entity.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrCycleInProgress signals that a cycle for the same entity is already running.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	// ErrInvalidParameters signals malformed cycle or schedule parameters.
	ErrInvalidParameters = errors.New("invalid sync parameters")
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mapping.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrUnknownEntity, err)
	}
	if errors.Is(err, domain.ErrInvalidCycleParameters) ||
		errors.Is(err, domain.ErrUnknownSchedule) {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return err
}
