package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Allocator owns every slot status transition. Nothing else in the service
// writes slot status; create/cancel/reschedule all route through it inside
// the caller's transaction.
type Allocator struct {
	log *zap.Logger
}

func NewAllocator(log *zap.Logger) *Allocator {
	return &Allocator{log: log}
}

// Claim attempts to take the slot for a new booking. It serializes against
// concurrent claims on the same slot with a non-blocking row lock: a losing
// caller fails immediately with ErrSlotContended instead of queueing, since
// waiting behind another booking attempt is worse than picking another slot.
//
// Exactly one of N concurrent claims on the same slot succeeds. Losers see
// either ErrSlotContended (lost the lock race) or SlotUnavailableError
// (arrived after the winner committed). Claim never retries on its own.
func (a *Allocator) Claim(ctx context.Context, tx Tx, slotID uuid.UUID) (*Slot, error) {
	slot, err := tx.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	if slot.Status != SlotAvailable {
		return nil, &SlotUnavailableError{Status: slot.Status}
	}

	// The conditional write is a second guard: even if a storage backend
	// cannot honor the non-blocking lock, a stale writer affects zero rows
	// here instead of overwriting the concurrent winner.
	ok, err := tx.MarkSlotBooked(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("mark slot booked: %w", err)
	}
	if !ok {
		a.log.Debug("conditional slot update lost the race", zap.String("slot_id", slotID.String()))
		return nil, ErrSlotContended
	}

	slot.Status = SlotBooked
	slot.Version++
	return slot, nil
}

// Release returns the slot to available. Idempotent: releasing a slot that
// is already available is a no-op, not an error.
func (a *Allocator) Release(ctx context.Context, tx Tx, slotID uuid.UUID) error {
	if err := tx.ReleaseSlot(ctx, slotID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}
