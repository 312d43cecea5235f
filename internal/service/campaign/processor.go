package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/personalize"
)

// ProcessBatch claims up to batchSize queued jobs for the campaign, sends
// each one and records the outcomes. A non-positive batchSize uses the
// default; larger values are capped at the configured maximum.
//
// Each outcome is written as soon as its job is sent, and the claim is
// renewed every ClaimTTL/3 so that stale-claim recovery leaves the batch
// alone. A job whose claim was lost is neither sent nor overwritten.
//
// When no queued jobs remain and nothing is in flight the campaign is
// completed and a zero result is returned. A failure to send one job is
// recorded on that job and never aborts the batch.
func (s *Service) ProcessBatch(ctx context.Context, orgID, campaignID string, batchSize int) (domain.BatchResult, error) {
	size := s.clampBatch(batchSize)

	c, err := s.repo.GetCampaign(ctx, orgID, campaignID)
	if err != nil {
		return domain.BatchResult{}, err
	}
	if !c.Sendable() {
		return domain.BatchResult{}, fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
	}

	sender, err := s.repo.GetSender(ctx, orgID, c.SenderID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("load sender %s: %w", c.SenderID, err)
	}
	tmpl, err := s.repo.GetTemplate(ctx, orgID, c.TemplateID)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("load template %s: %w", c.TemplateID, err)
	}
	if !tmpl.HasBody() {
		return domain.BatchResult{}, fmt.Errorf("%w: template %s has no body", ErrValidation, tmpl.ID)
	}

	if c.Status == domain.CampaignQueued {
		err := s.repo.SetStatus(ctx, orgID, campaignID,
			[]domain.CampaignStatus{domain.CampaignQueued}, domain.CampaignSending)
		if err != nil && !errors.Is(err, ErrInvalidState) {
			return domain.BatchResult{}, fmt.Errorf("start sending: %w", err)
		}
		if err != nil {
			// Lost the race; only continue if the winner left it sendable.
			if c, err = s.repo.GetCampaign(ctx, orgID, campaignID); err != nil {
				return domain.BatchResult{}, err
			}
			if !c.Sendable() {
				return domain.BatchResult{}, fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
			}
		}
	}

	jobs, err := s.repo.ClaimJobs(ctx, orgID, campaignID, size)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		return domain.BatchResult{}, s.finish(ctx, orgID, campaignID)
	}

	// Claimed jobs must reach a terminal state even if the caller goes away.
	workCtx := context.WithoutCancel(ctx)

	token := jobs[0].ClaimToken
	held := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		held[j.ID] = true
	}
	lastRenew := s.now()

	var (
		result   domain.BatchResult
		pending  []domain.JobOutcome
		renewErr error
	)
	for i := range jobs {
		job := &jobs[i]

		// Keep claimed_at fresh so recovery never hands a held job to
		// another caller while this batch is still working through it.
		if s.now().Sub(lastRenew) >= s.opts.ClaimTTL/3 {
			ids, err := s.repo.RenewClaims(workCtx, token)
			if err != nil {
				renewErr = fmt.Errorf("renew claims: %w", err)
				break
			}
			held = make(map[string]bool, len(ids))
			for _, id := range ids {
				held[id] = true
			}
			lastRenew = s.now()
		}
		if !held[job.ID] {
			s.log.Warn("claim lost before send", "campaign_id", campaignID, "job_id", job.ID)
			continue
		}

		out := s.processJob(workCtx, sender, tmpl, job)
		if out.Sent {
			result.Sent++
		} else {
			result.Failed++
		}

		n, err := s.repo.CompleteJobs(workCtx, token, []domain.JobOutcome{out})
		switch {
		case err != nil:
			s.log.Warn("job outcome not saved, will retry", "job_id", job.ID, "error", err)
			pending = append(pending, out)
		case n == 0:
			s.log.Warn("claim lost after send", "campaign_id", campaignID, "job_id", job.ID)
		}
	}

	if len(pending) > 0 {
		if _, err := s.repo.CompleteJobs(workCtx, token, pending); err != nil {
			return result, fmt.Errorf("complete jobs: %w", err)
		}
	}
	if renewErr != nil {
		// Unsent jobs stay claimed until recovery releases them.
		return result, renewErr
	}

	s.audit(workCtx, orgID, "campaign.batch_sent", campaignID, map[string]any{
		"sent":   result.Sent,
		"failed": result.Failed,
	})
	s.log.Info("batch processed",
		"org_id", orgID, "campaign_id", campaignID,
		"claimed", len(jobs), "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

// finish completes the campaign once no queued or in-flight jobs remain.
func (s *Service) finish(ctx context.Context, orgID, campaignID string) error {
	counts, err := s.repo.CountJobs(ctx, orgID, campaignID)
	if err != nil {
		return fmt.Errorf("count jobs: %w", err)
	}
	if counts.Queued > 0 || counts.Processing > 0 {
		return nil
	}

	err = s.repo.SetStatus(ctx, orgID, campaignID, sourcesOf(domain.CampaignCompleted), domain.CampaignCompleted)
	if errors.Is(err, ErrInvalidState) {
		// Already completed or paused by a concurrent caller.
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}

	s.audit(ctx, orgID, "campaign.completed", campaignID, map[string]any{
		"sent":   counts.Sent,
		"failed": counts.Failed,
	})
	s.log.Info("campaign completed", "org_id", orgID, "campaign_id", campaignID,
		"sent", counts.Sent, "failed", counts.Failed)
	return nil
}

func (s *Service) processJob(ctx context.Context, sender *domain.Sender, tmpl *domain.Template, job *domain.ClaimedJob) (out domain.JobOutcome) {
	out = domain.JobOutcome{JobID: job.ID}
	defer func() {
		if r := recover(); r != nil {
			out.Sent = false
			out.ProviderMessageID = ""
			out.Error = fmt.Sprintf("panic: %v", r)
			s.log.Error("job panicked", "job_id", job.ID, "panic", r)
		}
		if out.At.IsZero() {
			out.At = s.now().UTC()
		}
	}()

	r := personalize.Render(tmpl.Subject, tmpl.HTMLBody, tmpl.TextBody, personalize.ContactVars(job.Contact))

	msg := &domain.EmailMessage{
		FromEmail: sender.FromEmail,
		FromName:  sender.FromName,
		ToEmail:   job.Contact.Email,
		ToName:    job.Contact.DisplayName(),
		Subject:   r.Subject,
		HTMLBody:  r.HTMLBody,
		TextBody:  r.TextBody,
		Tags: map[string]string{
			"campaign_id": job.CampaignID,
			"job_id":      job.ID,
		},
	}
	if sender.ReplyTo != nil {
		msg.ReplyTo = *sender.ReplyTo
	}

	res := s.sender.Send(ctx, msg)
	if !res.Success {
		out.Error = res.Error
		if out.Error == "" {
			out.Error = "send failed"
		}
		return out
	}

	out.Sent = true
	out.ProviderMessageID = res.MessageID
	if !res.SentAt.IsZero() {
		out.At = res.SentAt.UTC()
	}
	return out
}

func (s *Service) clampBatch(n int) int {
	if n <= 0 {
		return s.opts.DefaultBatchSize
	}
	if n > s.opts.MaxBatchSize {
		return s.opts.MaxBatchSize
	}
	return n
}
