package intake

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-intake-go/internal/classify"
	"slack-intake-go/internal/model"
	"slack-intake-go/internal/testutil"
)

func workItem(key, text string, r classify.Result) WorkItem {
	return WorkItem{
		Schema:         WorkSchema,
		IdempotencyKey: key,
		Source:         Source{ConversationKey: "C1", SenderKey: "U1", TS: "1.0", Text: text},
		Classification: classify.Encode(r),
		CreatedAt:      time.Now().UTC(),
	}
}

func TestGormIngestorCreatesRecordsByKind(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	ing := NewGormIngestor(conn)

	group := classify.Group{GroupKey: classify.GroupSaleListing, DueDate: "2024-11-05T09:30", Confidence: 0.9}
	require.NoError(t, ing.Ingest(ctx, workItem("C1:1", "new listing", group), group))

	stray := classify.Stray{TaskKey: classify.TaskSaleClosing, Confidence: 0.8}
	require.NoError(t, ing.Ingest(ctx, workItem("C1:2", "please  send the closing docs\nthanks", stray), stray))

	info := classify.InfoRequest{Confidence: 0.7}
	require.NoError(t, ing.Ingest(ctx, workItem("C1:3", "which unit was that?", info), info))

	require.NoError(t, ing.Ingest(ctx, workItem("C1:4", "lol", classify.Ignore{Confidence: 1}), classify.Ignore{Confidence: 1}))

	var listing model.Listing
	require.NoError(t, conn.Where("source_key = ?", "C1:1").First(&listing).Error)
	assert.Equal(t, "SALE_LISTING", listing.GroupKey)
	assert.Equal(t, classify.ListingSale, listing.ListingType)
	assert.Equal(t, "Unknown", listing.Address)
	assert.Equal(t, "2024-11-05", listing.DueDate)
	assert.Equal(t, "new", listing.Status)

	var task model.AgentTask
	require.NoError(t, conn.Where("source_key = ?", "C1:2").First(&task).Error)
	assert.Equal(t, classify.CategoryAdmin, task.Category)
	assert.Equal(t, "Send the closing docs", task.Title)
	assert.Equal(t, "open", task.Status)

	var req model.InfoRequest
	require.NoError(t, conn.Where("source_key = ?", "C1:3").First(&req).Error)
	assert.Equal(t, "which unit was that?", req.Question)

	var people int64
	require.NoError(t, conn.Model(&model.Person{}).Count(&people).Error)
	assert.Equal(t, int64(1), people)
	assert.Equal(t, listing.PersonID, task.PersonID)
}

func TestGormIngestorIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	ing := NewGormIngestor(conn)

	r := strayResult()
	item := workItem("C1:1", "order lockbox", r)
	require.NoError(t, ing.Ingest(ctx, item, r))
	require.NoError(t, ing.Ingest(ctx, item, r))

	var n int64
	require.NoError(t, conn.Model(&model.AgentTask{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestGormIngestorPromotesDealTasks(t *testing.T) {
	ctx := context.Background()
	conn := testutil.NewDB(t)
	ing := NewGormIngestor(conn)

	tests := map[classify.TaskKey]string{
		classify.TaskBuyerDeal:              DealBuyer,
		classify.TaskLeaseTenantDealClosing: DealTenant,
		classify.TaskRelistDealLease:        DealRelist,
	}
	for key, deal := range tests {
		r := classify.Stray{TaskKey: key, Listing: classify.Listing{Type: classify.ListingLease, Address: "22 King St W"}, Confidence: 0.9}
		require.NoError(t, ing.Ingest(ctx, workItem(string(key), "deal", r), r))

		var listing model.Listing
		require.NoError(t, conn.Where("source_key = ?", string(key)).First(&listing).Error)
		assert.Equal(t, deal, listing.DealType)
		assert.Equal(t, classify.ListingLease, listing.ListingType)
		assert.Equal(t, "22 King St W", listing.Address)
	}

	var tasks int64
	require.NoError(t, conn.Model(&model.AgentTask{}).Count(&tasks).Error)
	assert.Zero(t, tasks)
}

func TestFriendlyTitle(t *testing.T) {
	assert.Equal(t, "Task", friendlyTitle("  "))
	assert.Equal(t, "Book photographer", friendlyTitle("Please book photographer\nfor friday"))
	long := friendlyTitle(strings.Repeat("a", 120))
	assert.Len(t, long, classify.MaxTaskTitle)
	assert.Equal(t, "...", long[len(long)-3:])
}
