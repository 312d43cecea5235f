package transport

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient sends emails via AWS SES using the SDK v2.
type SESClient struct {
	api sesAPI
	log *logger.Logger
}

// NewSESClient creates an SES client. Static credentials are used when
// provided, otherwise the default AWS credential chain.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string) (*SESClient, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSESClient(sesv2.NewFromConfig(cfg)), nil
}

func newSESClient(api sesAPI) *SESClient {
	return &SESClient{api: api, log: logger.New("transport.ses")}
}

// Send delivers msg through SES. It never returns an error.
func (s *SESClient) Send(ctx context.Context, msg *domain.EmailMessage) domain.SendResult {
	if !msg.HasBody() {
		return domain.Failed(domain.ProviderSES, ErrEmptyBody)
	}

	from := msg.FromEmail
	if msg.FromName != "" {
		// quotes or encodes display names with specials or non-ASCII
		from = (&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String()
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.ToEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for k, v := range msg.Tags {
		if v == "" {
			continue
		}
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		s.log.Warn("send failed", "recipient", msg.ToEmail, "error", err)
		return domain.Failed(domain.ProviderSES, truncate(err.Error(), maxErrorBody))
	}

	return domain.SendResult{
		Success:   true,
		MessageID: aws.ToString(out.MessageId),
		Provider:  domain.ProviderSES,
		SentAt:    time.Now().UTC(),
	}
}
