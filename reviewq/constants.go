// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

// ChangeType is the kind of mutation a change request proposes.
type ChangeType string

// Change type constants
const (
	ChangeCreate ChangeType = "CREATE"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return true
	default:
		return false
	}
}

// Status constants for change request lifecycle
const (
	StPending  = "pending"
	StApproved = "approved"
	StRejected = "rejected"
)

// Role constants carried in the JWT role claim
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// Target tables known to the review workflow
const (
	TableDrugOverview     = "drug_overview"
	TableTherapeuticTrial = "therapeutic_trial"
)

// Review actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Error codes written in ErrorResponse.Error
const (
	CodeInvalidRequest       = "invalid_request"
	CodeValidationFailed     = "validation_failed"
	CodeAuthenticationFailed = "authentication_failed"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeConflict             = "conflict"
	CodeInternalError        = "internal_error"
)

// HTTP surface
const (
	PathSubmitChange   = "/api/v1/pending-changes/submitChange"
	PathPendingChanges = "/api/v1/pending-changes"
	PathSignin         = "/api/v1/auth/dummy-signin"
	PathTrials         = "/api/v1/therapeutic/all-trials-with-data"
	PathTrialOverview  = "/api/v1/therapeutic/overview"
	PathDrugs          = "/api/v1/drugs/all-drugs-with-data"
	PathDrugOverview   = "/api/v1/drugs/overview"
	PathActivityLogs   = "/api/v1/activity-logs"

	HeaderIdempotencyKey = "Idempotency-Key"
)

// Pagination defaults
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)
