package events

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.OutboxEvent{}))
	return db
}

type fakePublisher struct {
	subjects [][2]string // subject, payload
	failures int
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.subjects = append(f.subjects, [2]string{subject, string(data)})
	return nil
}

func (f *fakePublisher) Close() {}

func appendEvent(t *testing.T, db *gorm.DB, eventType, auctionID string, payload interface{}) {
	t.Helper()
	recorder := NewRecorder()
	tx := db.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, recorder.AppendTx(tx, eventType, auctionID, "", payload))
	require.NoError(t, tx.Commit().Error)
}

func TestAppendTxRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder()

	tx := db.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, recorder.AppendTx(tx, types.EventBidAccepted, "AUC_1", "", types.BidAcceptedEvent{AuctionID: "AUC_1", Amount: 100}))
	tx.Rollback()

	pending, err := NewDatabase(db).GetPendingEvents(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchPublishesInCommitOrder(t *testing.T) {
	db := newTestDB(t)
	appendEvent(t, db, types.EventBidAccepted, "AUC_1", types.BidAcceptedEvent{AuctionID: "AUC_1", Amount: 100})
	appendEvent(t, db, types.EventBidAccepted, "AUC_1", types.BidAcceptedEvent{AuctionID: "AUC_1", Amount: 200})
	appendEvent(t, db, types.EventAuctionEnded, "AUC_1", types.AuctionEndedEvent{AuctionID: "AUC_1"})

	publisher := &fakePublisher{}
	dispatcher := NewDispatcher(NewDatabase(db), publisher, time.Second)
	require.NoError(t, dispatcher.dispatchPending())

	require.Len(t, publisher.subjects, 3)
	assert.Equal(t, "auctions.events.bid_accepted", publisher.subjects[0][0])
	assert.Contains(t, publisher.subjects[0][1], `"amount":100`)
	assert.Contains(t, publisher.subjects[1][1], `"amount":200`)
	assert.Equal(t, "auctions.events.auction_ended", publisher.subjects[2][0])

	count, err := NewDatabase(db).CountPending()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDispatchStopsBatchOnFailure(t *testing.T) {
	db := newTestDB(t)
	appendEvent(t, db, types.EventBidAccepted, "AUC_1", types.BidAcceptedEvent{Amount: 1})
	appendEvent(t, db, types.EventBidAccepted, "AUC_1", types.BidAcceptedEvent{Amount: 2})

	publisher := &fakePublisher{failures: 1}
	dispatcher := NewDispatcher(NewDatabase(db), publisher, time.Second)

	// First pass fails on the first event, so nothing is dispatched and
	// order is preserved.
	require.Error(t, dispatcher.dispatchPending())
	count, err := NewDatabase(db).CountPending()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Broker recovers, next tick drains the outbox in order.
	require.NoError(t, dispatcher.dispatchPending())
	require.Len(t, publisher.subjects, 2)
	assert.Contains(t, publisher.subjects[0][1], `"amount":1`)
	assert.Contains(t, publisher.subjects[1][1], `"amount":2`)
}

func TestMarkDispatchedRequiresPendingRow(t *testing.T) {
	db := newTestDB(t)
	appendEvent(t, db, types.EventBidAccepted, "AUC_1", types.BidAcceptedEvent{Amount: 1})

	database := NewDatabase(db)
	pending, err := database.GetPendingEvents(1)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, database.MarkDispatched(pending[0].EventID))
	err = database.MarkDispatched(pending[0].EventID)
	require.Error(t, err)
}

func TestGetRecentEventsFilters(t *testing.T) {
	db := newTestDB(t)
	appendEvent(t, db, types.EventBidAccepted, "AUC_1", types.BidAcceptedEvent{Amount: 1})
	appendEvent(t, db, types.EventBidAccepted, "AUC_2", types.BidAcceptedEvent{Amount: 2})
	appendEvent(t, db, types.EventAuctionEnded, "AUC_1", types.AuctionEndedEvent{})

	database := NewDatabase(db)

	all, err := database.GetRecentEvents("", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byType, err := database.GetRecentEvents(types.EventBidAccepted, "", 10)
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	byAuction, err := database.GetRecentEvents("", "AUC_1", 10)
	require.NoError(t, err)
	assert.Len(t, byAuction, 2)

	both, err := database.GetRecentEvents(types.EventAuctionEnded, "AUC_1", 10)
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, types.EventAuctionEnded, both[0].Type)
}

func TestSubjectFor(t *testing.T) {
	dispatcher := NewDispatcher(nil, nil, time.Second)
	assert.Equal(t, "auctions.events.tokens_burned", dispatcher.SubjectFor(types.EventTokensBurned))
}
