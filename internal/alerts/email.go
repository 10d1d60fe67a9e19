package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/inference"
)

// Sender is satisfied by the shared SES client.
type Sender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// EmailNotifier mails positive verdicts to a fixed recipient list.
type EmailNotifier struct {
	sender  Sender
	from    string
	to      []string
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time
}

func NewEmailNotifier(sender Sender, from string, to []string, timeout time.Duration, log logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender:  sender,
		from:    from,
		to:      to,
		timeout: timeout,
		logger:  log.WithFields(map[string]interface{}{"component": "alerts", "channel": "email"}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (n *EmailNotifier) NotifyPositive(ctx context.Context, res inference.PredictionResult, predictionID, transport string) error {
	if !res.IsPositive {
		return nil
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	out, err := n.sender.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(n.from),
		Destination: &types.Destination{ToAddresses: n.to},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Heart disease risk detected"), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(n.body(res, predictionID, transport)), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return errors.NewAlertPublishFailedError(err)
	}

	n.logger.Info("Risk alert emailed", map[string]interface{}{
		"messageId":    aws.ToString(out.MessageId),
		"predictionId": predictionID,
		"recipients":   len(n.to),
	})
	return nil
}

func (n *EmailNotifier) body(res inference.PredictionResult, predictionID, transport string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", res.Label)
	fmt.Fprintf(&b, "Probability: %.4f\n", res.Probability)
	fmt.Fprintf(&b, "Threshold:   %v\n", res.Threshold)
	if predictionID != "" {
		fmt.Fprintf(&b, "Prediction:  %s\n", predictionID)
	}
	fmt.Fprintf(&b, "Source:      %s\n", transport)
	fmt.Fprintf(&b, "Time:        %s\n", n.now().Format(time.RFC3339))
	return b.String()
}
