package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/transport"
)

// SendRecorder persists delivery outcomes of transport jobs.
type SendRecorder interface {
	RecordSend(ctx context.Context, job *domain.TransportJob, res domain.SendResult) error
	TouchInbox(ctx context.Context, orgID, inboxID string, at time.Time) error
}

// Dispatcher delivers transport jobs through the transport client.
type Dispatcher struct {
	client transport.Client
	rec    SendRecorder
	log    *logger.Logger
}

func NewDispatcher(client transport.Client, rec SendRecorder) *Dispatcher {
	return &Dispatcher{client: client, rec: rec, log: logger.New("dispatcher")}
}

// Handle sends one job and records the outcome. Once the message has been
// handed to the transport, Handle returns nil so the job is never
// redelivered and sent twice; recording failures are only logged.
func (d *Dispatcher) Handle(ctx context.Context, job *domain.TransportJob) error {
	if job.To == "" || job.FromEmail == "" {
		return fmt.Errorf("transport job %s missing addresses", job.ID)
	}

	res := d.client.Send(ctx, job.Message())

	if err := d.rec.RecordSend(ctx, job, res); err != nil {
		d.log.Error("record send failed", "job_id", job.ID, "error", err)
	}
	if res.Success && job.InboxID != "" {
		at := res.SentAt
		if at.IsZero() {
			at = time.Now()
		}
		if err := d.rec.TouchInbox(ctx, job.OrganizationID, job.InboxID, at); err != nil {
			d.log.Warn("touch inbox failed", "inbox_id", job.InboxID, "error", err)
		}
	}

	if res.Success {
		d.log.Info("sequence email sent", "job_id", job.ID, "enrollment_id", job.EnrollmentID, "recipient", job.To)
	} else {
		d.log.Warn("sequence email failed", "job_id", job.ID, "enrollment_id", job.EnrollmentID, "recipient", job.To, "error", res.Error)
	}
	return nil
}
