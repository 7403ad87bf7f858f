package intake

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/errs"
	"slack-intake-go/internal/model"
)

// Deal types of listings promoted from task templates
const (
	DealBuyer  = "BUYER"
	DealTenant = "TENANT"
	DealRelist = "RELIST"
)

const unknownAddress = "Unknown"

var pleasePrefix = regexp.MustCompile(`(?i)^\s*(please\s+)?`)

// Ingestor applies a classification to the domain records. Ingesting the
// same work item twice must have the effect of ingesting it once.
type Ingestor interface {
	Ingest(ctx context.Context, item WorkItem, result classify.Result) error
}

// GormIngestor writes domain records with gorm
type GormIngestor struct {
	db *gorm.DB
}

// NewGormIngestor creates a new database ingestor
func NewGormIngestor(db *gorm.DB) *GormIngestor {
	return &GormIngestor{db: db}
}

// Ingest creates the record the classification calls for. Records are keyed
// by the item's idempotency key, so a replay inserts nothing.
func (g *GormIngestor) Ingest(ctx context.Context, item WorkItem, result classify.Result) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var personID uint
		if item.Source.SenderKey != "" {
			person, err := resolvePerson(tx, item.Source.SenderKey)
			if err != nil {
				return err
			}
			personID = person.ID
		}

		switch r := result.(type) {
		case classify.Group:
			return insertOnce(tx, &model.Listing{
				SourceKey:    item.IdempotencyKey,
				PersonID:     personID,
				GroupKey:     string(r.GroupKey),
				ListingType:  listingType(r.Listing),
				Address:      address(r.Listing),
				AssigneeHint: r.AssigneeHint,
				DueDate:      dueDate(r.DueDate),
				Confidence:   r.Confidence,
			})
		case classify.Stray:
			if deal := promotedDeal(r.TaskKey); deal != "" {
				return insertOnce(tx, &model.Listing{
					SourceKey:    item.IdempotencyKey,
					PersonID:     personID,
					DealType:     deal,
					ListingType:  listingType(r.Listing),
					Address:      address(r.Listing),
					Title:        r.Title,
					AssigneeHint: r.AssigneeHint,
					DueDate:      dueDate(r.DueDate),
					Confidence:   r.Confidence,
				})
			}
			title := r.Title
			if title == "" {
				title = friendlyTitle(item.Source.Text)
			}
			return insertOnce(tx, &model.AgentTask{
				SourceKey:      item.IdempotencyKey,
				PersonID:       personID,
				TaskKey:        string(r.TaskKey),
				Category:       r.TaskKey.Category(),
				Title:          title,
				ListingAddress: r.Listing.Address,
				AssigneeHint:   r.AssigneeHint,
				DueDate:        dueDate(r.DueDate),
				Confidence:     r.Confidence,
			})
		case classify.InfoRequest:
			return insertOnce(tx, &model.InfoRequest{
				SourceKey:       item.IdempotencyKey,
				PersonID:        personID,
				ConversationKey: item.Source.ConversationKey,
				Question:        item.Source.Text,
				Confidence:      r.Confidence,
			})
		case classify.Ignore:
			return nil
		default:
			return errs.Permanent(fmt.Errorf("unhandled classification %T", result))
		}
	})
	if err != nil {
		if errs.IsPermanent(err) {
			return err
		}
		return errs.Transient("intake.ingest", err)
	}

	logrus.WithFields(logrus.Fields{
		"idempotency_key": item.IdempotencyKey,
		"kind":            result.Kind(),
		"sender":          maskSender(item.Source.SenderKey),
	}).Info("Classification ingested")
	return nil
}

func resolvePerson(tx *gorm.DB, senderKey string) (*model.Person, error) {
	person := model.Person{SenderKey: senderKey, DisplayName: senderKey, CreatedAt: time.Now().UTC()}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sender_key"}},
		DoNothing: true,
	}).Create(&person).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create person: %w", err)
	}

	var found model.Person
	if err := tx.Where("sender_key = ?", senderKey).First(&found).Error; err != nil {
		return nil, fmt.Errorf("failed to load person: %w", err)
	}
	return &found, nil
}

func insertOnce(tx *gorm.DB, record interface{}) error {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_key"}},
		DoNothing: true,
	}).Create(record)
	if result.Error != nil {
		return fmt.Errorf("failed to insert %T: %w", record, result.Error)
	}
	if result.RowsAffected == 0 {
		logrus.Debugf("%T already ingested", record)
	}
	return nil
}

// promotedDeal returns the deal type for task templates that open a listing
// rather than a task
func promotedDeal(k classify.TaskKey) string {
	switch k {
	case classify.TaskBuyerDeal, classify.TaskBuyerDealClosing:
		return DealBuyer
	case classify.TaskLeaseTenantDeal, classify.TaskLeaseTenantDealClosing:
		return DealTenant
	case classify.TaskRelistDealSale, classify.TaskRelistDealLease:
		return DealRelist
	}
	return ""
}

func listingType(l classify.Listing) string {
	if l.Type == "" {
		return classify.ListingSale
	}
	return l.Type
}

func address(l classify.Listing) string {
	if l.Address == "" {
		return unknownAddress
	}
	return l.Address
}

// dueDate keeps the date part of a yyyy-MM-ddTHH:mm value
func dueDate(s string) string {
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}

// friendlyTitle builds a task title from the first line of the message
func friendlyTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Task"
	}
	line := strings.SplitN(text, "\n", 2)[0]
	line = pleasePrefix.ReplaceAllString(line, "")
	line = strings.Join(strings.Fields(line), " ")
	if line == "" {
		return "Task"
	}
	if utf8.RuneCountInString(line) > classify.MaxTaskTitle {
		line = string([]rune(line)[:classify.MaxTaskTitle-3]) + "..."
	}
	r, size := utf8.DecodeRuneInString(line)
	return string(unicode.ToUpper(r)) + line[size:]
}
