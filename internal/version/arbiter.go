// Package version implements the Version Arbiter (C1): the single path by
// which any component's version is compared and bumped, so every mutation
// path shares one correctness proof (spec §9 design note).
package version

import (
	"context"
	"fmt"

	"github.com/veilchat/chatsync/internal/domain"
)

// Store is the minimal persistence contract the arbiter needs. The Chat
// Repository (C3) satisfies this; the arbiter never talks to Postgres or
// Redis directly.
type Store interface {
	// CurrentVersion returns the component's version as currently stored.
	CurrentVersion(ctx context.Context, chatID string, component domain.Component) (int64, error)
	// CommitBump persists the new version and the payload atomically in the
	// same write batch, per §4.1's contract. payload is component-specific
	// (encrypted title/draft bytes, or nil for the messages component whose
	// payload is the message row itself, persisted by the caller).
	CommitBump(ctx context.Context, chatID string, component domain.Component, newVersion int64, payload []byte) error
}

// Result is the outcome of check_and_bump.
type Result struct {
	Accepted       bool
	NewVersion     int64 // valid iff Accepted
	CurrentVersion int64 // valid iff !Accepted — echoed for client reconciliation
}

// Arbiter is the Version Arbiter (C1).
type Arbiter struct {
	store Store
}

// New builds an Arbiter over the given Store.
func New(store Store) *Arbiter {
	return &Arbiter{store: store}
}

// CheckAndBump compares basedOnVersion against the stored version for the
// given chat/component. Per §4.1: ties are impossible because each
// component has its own counter, and concurrent writers against the same
// component of the same chat are expected to be serialized upstream by the
// caller (the Chat Repository takes a per-chat lock before calling this).
func (a *Arbiter) CheckAndBump(ctx context.Context, chatID string, component domain.Component, basedOnVersion int64, payload []byte) (Result, error) {
	if !component.IsValid() {
		return Result{}, fmt.Errorf("check and bump %s/%s: %w", chatID, component, domain.ErrInvalidComponent)
	}

	current, err := a.store.CurrentVersion(ctx, chatID, component)
	if err != nil {
		return Result{}, fmt.Errorf("read current version: %w", err)
	}

	if basedOnVersion != current {
		return Result{Accepted: false, CurrentVersion: current}, nil
	}

	newVersion := current + 1
	if err := a.store.CommitBump(ctx, chatID, component, newVersion, payload); err != nil {
		return Result{}, fmt.Errorf("commit bump: %w", err)
	}

	return Result{Accepted: true, NewVersion: newVersion}, nil
}
