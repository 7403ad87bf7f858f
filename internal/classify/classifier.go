package classify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Message is one chat message of a batch
type Message struct {
	SenderKey string    `json:"sender_key"`
	TS        string    `json:"ts"`
	Time      time.Time `json:"time"`
	Text      string    `json:"text"`
	Links     []string  `json:"links,omitempty"`
}

// Input is the conversation batch handed to a classifier
type Input struct {
	ConversationKey string    `json:"conversation_key"`
	Messages        []Message `json:"messages"`
}

// Classifier decides what a batch of messages means operationally.
// Failures wrap errs.ErrClassification.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// Disabled classifies everything as IGNORE
type Disabled struct{}

// Classify returns Ignore
func (Disabled) Classify(context.Context, Input) (Result, error) {
	return Ignore{Confidence: 1, Explanations: []string{"classifier disabled"}}, nil
}

type prefilter struct {
	next Classifier
}

// WithPrefilter skips the wrapped classifier when every message in the batch
// is casual chatter
func WithPrefilter(next Classifier) Classifier {
	return &prefilter{next: next}
}

func (p *prefilter) Classify(ctx context.Context, in Input) (Result, error) {
	reasons := make([]string, 0, len(in.Messages))
	for _, m := range in.Messages {
		skip, reason := ShouldSkip(m.Text)
		if !skip {
			return p.next.Classify(ctx, in)
		}
		reasons = append(reasons, reason)
	}

	logrus.WithFields(logrus.Fields{
		"conversation": in.ConversationKey,
		"messages":     len(in.Messages),
		"reasons":      reasons,
	}).Debug("Batch skipped by prefilter")
	return Ignore{Confidence: 1, Explanations: append([]string{"prefilter"}, reasons...)}, nil
}
