// Copyright 2025 PetShield Contributors
// SPDX-License-Identifier: Apache-2.0

package petsqlite

import "errors"

// Error taxonomy for the client-side sync core.
var (
	// ErrLocalPersistence reports that the durable write of a change entry
	// failed. The mutation is considered not recorded; the caller must surface
	// it to the user rather than drop it silently.
	ErrLocalPersistence = errors.New("local persistence failed")

	// ErrSyncTransport reports that a reconciliation request could not be
	// completed (network failure, timeout, non-success response). The whole
	// attempt is treated as not-happened: the change log is unchanged and a
	// later connectivity-regain event or manual retry reattempts the batch.
	ErrSyncTransport = errors.New("sync transport failed")
)
