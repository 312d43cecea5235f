// Package suppression decides whether an address may receive sequence mail.
//
// Two lists are consulted per organization: the suppression list (hard
// bounces, complaints, manual blocks) and the unsubscribe list. The service
// depends on the Repository interface defined in repository.go and never
// imports net/http or database/sql directly.
package suppression
