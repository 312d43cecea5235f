package campaign

import "github.com/ignite/mailpipe/internal/domain"

// transitions lists the statuses reachable from each status. completed is
// terminal. queued -> completed covers a list drained before the first
// batch flipped the campaign to sending.
var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:   {domain.CampaignQueued},
	domain.CampaignQueued:  {domain.CampaignSending, domain.CampaignPaused, domain.CampaignCompleted},
	domain.CampaignSending: {domain.CampaignPaused, domain.CampaignCompleted},
	domain.CampaignPaused:  {domain.CampaignSending},
}

// CanTransition reports whether a campaign may move from one status to
// another.
func CanTransition(from, to domain.CampaignStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may transition to `to`, for use as
// the guard of a conditional update.
func sourcesOf(to domain.CampaignStatus) []domain.CampaignStatus {
	var out []domain.CampaignStatus
	for _, from := range []domain.CampaignStatus{
		domain.CampaignDraft, domain.CampaignQueued, domain.CampaignSending,
		domain.CampaignPaused, domain.CampaignCompleted,
	} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
