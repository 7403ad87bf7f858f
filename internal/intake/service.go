package intake

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/debounce"
	"slack-intake-go/internal/dedup"
	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/metrics"
	"slack-intake-go/internal/signature"
)

// ErrMalformed is returned for bodies that are not a JSON envelope
var ErrMalformed = errors.New("malformed event body")

// Outcome is what the webhook did with a request
type Outcome int

const (
	// OutcomeAccepted means the event was buffered for classification
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate means the event was seen before and dropped
	OutcomeDuplicate
	// OutcomeIgnored means the event was recorded but is not actionable
	OutcomeIgnored
	// OutcomeChallenge means the request was a url_verification handshake
	OutcomeChallenge
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeChallenge:
		return "challenge"
	default:
		return "unknown"
	}
}

// Response is the result of handling one webhook request
type Response struct {
	Outcome   Outcome
	EventID   string
	Challenge string
}

// Service runs the request path of the pipeline: verification,
// deduplication and buffering. Everything slower happens after the
// acknowledgement, in the buffer's sink and the queue drainer.
type Service struct {
	verifier *signature.Verifier
	dedup    dedup.Store
	buffer   *debounce.Buffer
	metrics  *metrics.Metrics
}

// NewService creates a new webhook service
func NewService(verifier *signature.Verifier, store dedup.Store, buffer *debounce.Buffer, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{verifier: verifier, dedup: store, buffer: buffer, metrics: m}
}

// HandleWebhook processes one raw request. Errors wrap
// errs.ErrAuthentication, ErrMalformed or errs.ErrTransientStore.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, header http.Header) (Response, error) {
	resp, err := s.handle(ctx, body, header)
	s.metrics.WebhookRequests.WithLabelValues(outcomeLabel(resp, err)).Inc()
	return resp, err
}

func (s *Service) handle(ctx context.Context, body []byte, header http.Header) (Response, error) {
	err := s.verifier.Verify(body, header.Get(signature.HeaderSignature), header.Get(signature.HeaderTimestamp))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"has_timestamp": header.Get(signature.HeaderTimestamp) != "",
			"has_signature": header.Get(signature.HeaderSignature) != "",
		}).Warnf("Slack signature verification failed: %v", err)
		return Response{}, err
	}

	env, err := ParseEnvelope(body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Type == TypeURLVerification {
		logrus.Info("URL verification challenge answered")
		return Response{Outcome: OutcomeChallenge, Challenge: env.Challenge}, nil
	}

	eventID := EventID(env, body)
	log := logrus.WithField("event_id", eventID)

	outcome, err := s.dedup.Accept(ctx, eventID)
	if err != nil {
		log.Errorf("Failed to record event: %v", err)
		return Response{EventID: eventID}, err
	}
	if outcome == dedup.Duplicate {
		s.metrics.DuplicateEvents.Inc()
		log.Info("Duplicate event detected, ignoring")
		return Response{Outcome: OutcomeDuplicate, EventID: eventID}, nil
	}

	ev, ok := Normalize(env, eventID, body)
	if !ok {
		log.Debug("Event is not actionable, ignoring")
		return Response{Outcome: OutcomeIgnored, EventID: eventID}, nil
	}

	if _, err := s.buffer.Ingest(ctx, ev); err != nil {
		// Slack redelivers on 5xx; the redelivery must not look like a duplicate
		if fErr := s.dedup.Forget(ctx, eventID); fErr != nil {
			log.Errorf("Failed to forget event after buffering error: %v", fErr)
		}
		log.Errorf("Failed to buffer event: %v", err)
		return Response{EventID: eventID}, err
	}

	log.WithFields(logrus.Fields{
		"type":         ev.Type,
		"conversation": ev.ConversationKey,
		"sender":       maskSender(ev.SenderKey),
		"preview":      preview(ev.Text, 100),
	}).Info("Event accepted")
	return Response{Outcome: OutcomeAccepted, EventID: eventID}, nil
}

func outcomeLabel(resp Response, err error) string {
	switch {
	case err == nil:
		return resp.Outcome.String()
	case errs.IsAuth(err):
		return "unauthorized"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
