// Package store persists lost and found reports and the identity registry in
// SQLite.
//
// Each entity has its own typed repository (Reports, Identities) with a fixed
// set of queries; no statement is assembled from caller-provided table or
// column names. ConsumeFound gives the reconciliation service a transactional
// delete-and-snapshot of a found report so an item is either still available
// or linked to exactly one claim.
package store
