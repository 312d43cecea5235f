// Package coordinator runs the per-tenant sequence scheduler.
//
// Each organization has at most one Coordinator loop in a process, owned by
// the Registry. On every tick the coordinator loads the enrollments that
// are due, filters suppressed and unsubscribed recipients, picks a sending
// inbox and enqueues a transport job for the current sequence step. A
// distributed lock extends the one-pass-per-tenant guarantee across
// replicas, and the running flag is persisted so a restarted process
// resumes the tenants that were running.
package coordinator
