// Package domain contains core business types and interfaces.
//
// This file defines the entitlement source abstraction. Entitlement is
// derived, never persisted: each check recomputes from current data.
package domain

import "context"

// EntitlementSource is one source of subscription truth consulted during an
// entitlement check. Sources are evaluated in order; Check returns
// (entitled, ok) where ok=false means the source failed or was unavailable
// and the next source should be consulted (fail-to-next-source).
//
// Resolution rule: first source reporting entitled=true wins; if every
// source resolves (ok=true) without entitling, the account is not entitled;
// only if every source fails does the check itself fail. Adding another
// source (e.g. a second mobile platform) is a matter of appending to the
// resolver's source list.
type EntitlementSource interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Check evaluates the source for the given account.
	Check(ctx context.Context, account *Account) (entitled bool, ok bool)
}
