// Package campaign implements the campaign send pipeline.
//
// Queueing snapshots a campaign's list into one job per contact. Batches of
// jobs are then claimed, personalized and handed to the transport client,
// and each outcome is written back to the job. The campaign status moves
// through draft, queued, sending, paused and completed as described in
// state.go.
//
// The service depends on the Repository interface defined in this package.
// The Postgres implementation lives in repository/postgres/.
package campaign
