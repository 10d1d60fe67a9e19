// Package alerts delivers positive risk verdicts over SNS and SES email.
package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"heart-risk-service/internal/common/errors"
	"heart-risk-service/internal/common/logger"
	"heart-risk-service/internal/inference"
)

const EventPositiveVerdict = "heart_risk.positive_verdict"

// Publisher is satisfied by the shared SNS client.
type Publisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// Event is the message body published for a positive verdict.
type Event struct {
	Event        string    `json:"event"`
	PredictionID string    `json:"prediction_id,omitempty"`
	Probability  float64   `json:"probability"`
	Threshold    float64   `json:"threshold"`
	Label        string    `json:"label"`
	Transport    string    `json:"transport"`
	At           time.Time `json:"at"`
}

type Notifier struct {
	publisher Publisher
	topicARN  string
	timeout   time.Duration
	logger    logger.Logger
	now       func() time.Time
}

func NewNotifier(publisher Publisher, topicARN string, timeout time.Duration, log logger.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		topicARN:  topicARN,
		timeout:   timeout,
		logger:    log.WithFields(map[string]interface{}{"component": "alerts"}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NotifyPositive publishes res when it is positive; negative verdicts are ignored.
func (n *Notifier) NotifyPositive(ctx context.Context, res inference.PredictionResult, predictionID, transport string) error {
	if !res.IsPositive {
		return nil
	}

	body, err := json.Marshal(Event{
		Event:        EventPositiveVerdict,
		PredictionID: predictionID,
		Probability:  res.Probability,
		Threshold:    res.Threshold,
		Label:        res.Label,
		Transport:    transport,
		At:           n.now(),
	})
	if err != nil {
		return errors.NewAlertPublishFailedError(err)
	}

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	out, err := n.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String("Heart disease risk detected"),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(EventPositiveVerdict)},
		},
	})
	if err != nil {
		return errors.NewAlertPublishFailedError(err)
	}

	n.logger.Info("Risk alert published", map[string]interface{}{
		"messageId":    aws.ToString(out.MessageId),
		"predictionId": predictionID,
	})
	return nil
}
