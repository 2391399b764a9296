// Package notify wraps the two external collaborators spec.md §4.I/§4.J
// name but treat as out-of-scope: the per-client report email and the CTO
// permanent-failure alert. Grounded on the teacher's AWS SES wrapper
// (internal/services/aws_communication_service.go), generalised from
// SES+SNS to email-only since the spec names no SMS collaborator.
package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/google/uuid"
)

// Collaborator is what the job orchestrator and scheduler depend on: send
// a client's report, a notification-eve reminder, and a CTO alert on
// permanent job failure.
type Collaborator interface {
	SendReport(ctx context.Context, clientEmail string, ccEmails []string, assignedCount int) error
	SendNotificationEve(ctx context.Context, clientEmail string) error
	SendCTOAlert(ctx context.Context, alert CTOAlert) error
}

// CTOAlert is the structured payload sent on failed_permanent (spec §4.I
// step 7), replacing the original's literal HTML email template
// (SPEC_FULL.md §10 supplement — email rendering itself is out of scope).
type CTOAlert struct {
	JobID        uuid.UUID
	ClientID     uuid.UUID
	ErrorMessage string
	AttemptCount int
	OccurredAt   time.Time
}

// SESCollaborator sends email via AWS SES.
type SESCollaborator struct {
	client    *ses.Client
	fromEmail string
	ctoEmail  string
	enabled   bool
}

// New builds an SESCollaborator. If AWS_ACCESS_KEY_ID is not set, the
// collaborator is disabled and logs instead of sending, mirroring the
// teacher's "log instead of fail" degraded mode; a failure to load the AWS
// config is returned as an error.
func New(ctx context.Context, fromEmail, ctoEmail string) (*SESCollaborator, error) {
	if os.Getenv("AWS_ACCESS_KEY_ID") == "" {
		log.Println("⚠️  AWS credentials not configured - notify collaborator disabled, emails will be logged only")
		return &SESCollaborator{enabled: false}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}

	return &SESCollaborator{
		client:    ses.NewFromConfig(cfg),
		fromEmail: fromEmail,
		ctoEmail:  ctoEmail,
		enabled:   true,
	}, nil
}

func (s *SESCollaborator) SendReport(ctx context.Context, clientEmail string, ccEmails []string, assignedCount int) error {
	subject := fmt.Sprintf("%d new leads ready", assignedCount)
	body := fmt.Sprintf("%d new addresses were assigned to your account.", assignedCount)
	return s.send(ctx, clientEmail, ccEmails, subject, body)
}

func (s *SESCollaborator) SendNotificationEve(ctx context.Context, clientEmail string) error {
	return s.send(ctx, clientEmail, nil, "Your report arrives tomorrow", "Your next report will be sent tomorrow.")
}

func (s *SESCollaborator) SendCTOAlert(ctx context.Context, alert CTOAlert) error {
	subject := fmt.Sprintf("Job %s failed permanently", alert.JobID)
	body := fmt.Sprintf("client=%s attempts=%d error=%s at=%s",
		alert.ClientID, alert.AttemptCount, alert.ErrorMessage, alert.OccurredAt.Format(time.RFC3339))
	return s.send(ctx, s.ctoEmail, nil, subject, body)
}

func (s *SESCollaborator) send(ctx context.Context, to string, cc []string, subject, body string) error {
	if !s.enabled {
		log.Printf("📧 [DISABLED] would send to %s (cc %v): %s", to, cc, subject)
		return nil
	}

	destination := &sestypes.Destination{ToAddresses: []string{to}}
	if len(cc) > 0 {
		destination.CcAddresses = cc
	}

	input := &ses.SendEmailInput{
		Destination: destination,
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body:    &sestypes.Body{Text: &sestypes.Content{Data: aws.String(body)}},
		},
		Source: aws.String(s.fromEmail),
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: ses send failed: %w", err)
	}
	log.Printf("✅ email sent to %s (MessageID: %s)", to, aws.ToString(result.MessageId))
	return nil
}
