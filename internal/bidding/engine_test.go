package bidding

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/internal/types"
)

type testEnv struct {
	db     *gorm.DB
	engine *Engine
	ledger *ledger.Database
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Auction{}, &types.Bid{},
		&types.Account{}, &types.LedgerEntry{},
		&types.OutboxEvent{}, &types.IdempotencyRecord{},
	))
	ledgerDB := ledger.NewDatabase(db)
	engine := NewEngine(db, ledgerDB, events.NewRecorder(), NewLockTable(), 5*time.Minute, 5*time.Minute)
	return &testEnv{db: db, engine: engine, ledger: ledgerDB}
}

func credit(t *testing.T, env *testEnv, userID string, amount int64) {
	t.Helper()
	tx := env.db.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, env.ledger.CreditTx(tx, userID, amount, "seed", "test credit"))
	require.NoError(t, tx.Commit().Error)
}

// seedAuction writes an active auction row directly, the state the
// lifecycle service would have left it in.
func seedAuction(t *testing.T, env *testEnv, auctionType string, startingBid, minIncrement int64, endsIn time.Duration) *types.Auction {
	t.Helper()
	auction := &types.Auction{
		AuctionID:    "AUC_" + uuid.New().String(),
		SellerID:     "seller_1",
		Type:         auctionType,
		Title:        "test lot",
		StartingBid:  startingBid,
		MinIncrement: minIncrement,
		Duration:     3600,
		StartTime:    time.Now(),
		EndTime:      time.Now().Add(endsIn),
		Status:       types.AuctionStatusActive,
	}
	require.NoError(t, env.db.Create(auction).Error)
	return auction
}

func requireBalance(t *testing.T, env *testEnv, userID string, available, locked int64) {
	t.Helper()
	account, err := env.ledger.GetAccountByUserID(userID)
	require.NoError(t, err)
	assert.Equal(t, available, account.Available, "available for %s", userID)
	assert.Equal(t, locked, account.Locked, "locked for %s", userID)
}

func countEvents(t *testing.T, env *testEnv, eventType, auctionID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, env.db.Model(&types.OutboxEvent{}).
		Where("type = ? AND auction_id = ?", eventType, auctionID).
		Count(&count).Error)
	return count
}

func TestStrictImprovement(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)
	credit(t, env, "alice", 2000)
	credit(t, env, "bob", 2000)

	first, err := env.engine.Submit(auction.AuctionID, "alice", 1250, "")
	require.NoError(t, err)
	assert.Equal(t, types.BidStatusActive, first.Bid.Status)

	// An equal amount never improves on the standing bid.
	_, err = env.engine.Submit(auction.AuctionID, "bob", 1250, "")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBidTooLow))

	second, err := env.engine.Submit(auction.AuctionID, "bob", 1251, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1251), second.Auction.CurrentBid)
	assert.Equal(t, int64(2), second.Auction.TotalBids)
	assert.Equal(t, int64(2), second.Auction.UniqueBidders)

	outbid, err := env.engine.db.GetBid(first.Bid.BidID)
	require.NoError(t, err)
	assert.Equal(t, types.BidStatusOutbid, outbid.Status)

	requireBalance(t, env, "alice", 2000, 0)
	requireBalance(t, env, "bob", 749, 1251)
	require.NoError(t, env.ledger.CheckGlobalBalance())
}

func TestForwardIncrementRule(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 50, time.Hour)
	credit(t, env, "alice", 5000)
	credit(t, env, "bob", 5000)

	t.Run("first bid below the starting bid is rejected", func(t *testing.T) {
		_, err := env.engine.Submit(auction.AuctionID, "alice", 499, "")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBidTooLow))
	})

	t.Run("first bid may match the starting bid", func(t *testing.T) {
		_, err := env.engine.Submit(auction.AuctionID, "alice", 500, "")
		require.NoError(t, err)
	})

	t.Run("raises under the increment are rejected", func(t *testing.T) {
		_, err := env.engine.Submit(auction.AuctionID, "bob", 549, "")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBidTooLow))
	})

	t.Run("a full increment raise is accepted", func(t *testing.T) {
		result, err := env.engine.Submit(auction.AuctionID, "bob", 550, "")
		require.NoError(t, err)
		assert.Equal(t, int64(550), result.Auction.CurrentBid)
	})
}

func TestReverseQuotes(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeReverse, 1000, 10, time.Hour)
	credit(t, env, "vendor_a", 5000)
	credit(t, env, "vendor_b", 5000)

	t.Run("quotes above the budget are rejected", func(t *testing.T) {
		_, err := env.engine.Submit(auction.AuctionID, "vendor_a", 1001, "")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBidTooHigh))
	})

	t.Run("the budget itself is a valid opening quote", func(t *testing.T) {
		_, err := env.engine.Submit(auction.AuctionID, "vendor_a", 1000, "")
		require.NoError(t, err)
	})

	t.Run("undercuts must clear the full increment", func(t *testing.T) {
		_, err := env.engine.Submit(auction.AuctionID, "vendor_b", 991, "")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBidTooHigh))

		result, err := env.engine.Submit(auction.AuctionID, "vendor_b", 990, "")
		require.NoError(t, err)
		assert.Equal(t, int64(990), result.Auction.CurrentBid)
	})

	t.Run("the losing vendor is unlocked", func(t *testing.T) {
		requireBalance(t, env, "vendor_a", 5000, 0)
		requireBalance(t, env, "vendor_b", 4010, 990)
	})
}

func TestLeaderRaisingOwnBid(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 100, time.Hour)
	credit(t, env, "alice", 700)

	_, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
	require.NoError(t, err)

	// Resubmitting the same position is a strict-improvement violation.
	_, err = env.engine.Submit(auction.AuctionID, "alice", 600, "")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeBidTooLow))

	// Raising works because the old lock releases before the new one is
	// taken. Alice only ever funded 700 total.
	result, err := env.engine.Submit(auction.AuctionID, "alice", 700, "")
	require.NoError(t, err)
	assert.Equal(t, int64(700), result.Auction.CurrentBid)
	assert.Equal(t, int64(1), result.Auction.UniqueBidders)
	requireBalance(t, env, "alice", 0, 700)
}

func TestSellerCannotBid(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)
	credit(t, env, "seller_1", 5000)

	_, err := env.engine.Submit(auction.AuctionID, "seller_1", 600, "")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeSellerCannotBid))
}

func TestBidOnInactiveAuction(t *testing.T) {
	env := newTestEnv(t)
	credit(t, env, "alice", 5000)

	t.Run("pending auction", func(t *testing.T) {
		auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)
		require.NoError(t, env.db.Model(&types.Auction{}).
			Where("auction_id = ?", auction.AuctionID).
			Update("status", types.AuctionStatusPending).Error)
		_, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeAuctionNotActive))
	})

	t.Run("past its end time", func(t *testing.T) {
		auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, -time.Minute)
		_, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeAuctionNotActive))
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, err := env.engine.Submit("AUC_missing", "alice", 600, "")
		require.Error(t, err)
		assert.True(t, domainerrors.IsNotFound(err))
	})
}

func TestInsufficientFundsLeavesAuctionUntouched(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)
	credit(t, env, "alice", 1000)
	credit(t, env, "bob", 100)

	leader, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
	require.NoError(t, err)

	_, err = env.engine.Submit(auction.AuctionID, "bob", 700, "")
	require.Error(t, err)
	assert.True(t, domainerrors.IsInsufficientFunds(err))

	// The failed attempt rolls back whole: the leader keeps their lock
	// and their standing position.
	standing, err := env.engine.db.GetBid(leader.Bid.BidID)
	require.NoError(t, err)
	assert.Equal(t, types.BidStatusActive, standing.Status)
	requireBalance(t, env, "alice", 400, 600)
	requireBalance(t, env, "bob", 100, 0)

	current, err := env.engine.db.GetAuction(auction.AuctionID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), current.CurrentBid)
	assert.Equal(t, int64(1), current.TotalBids)
}

func TestAntiSnipeExtension(t *testing.T) {
	env := newTestEnv(t)
	credit(t, env, "alice", 10000)
	credit(t, env, "bob", 10000)

	t.Run("a late bid pushes the close out", func(t *testing.T) {
		auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, 3*time.Minute)

		result, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), result.Auction.EndTime, 5*time.Second)
		assert.Equal(t, int64(1), countEvents(t, env, types.EventAuctionExtended, auction.AuctionID))

		// The next qualifying bid extends again from its own acceptance.
		firstEnd := result.Auction.EndTime
		result, err = env.engine.Submit(auction.AuctionID, "bob", 601, "")
		require.NoError(t, err)
		assert.False(t, result.Auction.EndTime.Before(firstEnd))
		assert.Equal(t, int64(2), countEvents(t, env, types.EventAuctionExtended, auction.AuctionID))
	})

	t.Run("an early bid does not move the close", func(t *testing.T) {
		auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)

		result, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
		require.NoError(t, err)
		assert.WithinDuration(t, auction.EndTime, result.Auction.EndTime, time.Second)
		assert.Zero(t, countEvents(t, env, types.EventAuctionExtended, auction.AuctionID))
	})
}

func TestIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)
	credit(t, env, "alice", 1000)

	first, err := env.engine.Submit(auction.AuctionID, "alice", 600, "bid-key-1")
	require.NoError(t, err)
	replay, err := env.engine.Submit(auction.AuctionID, "alice", 600, "bid-key-1")
	require.NoError(t, err)

	assert.Equal(t, first.Bid.BidID, replay.Bid.BidID)

	// The retry neither re-locks funds nor re-counts the bid.
	current, err := env.engine.db.GetAuction(auction.AuctionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.TotalBids)
	requireBalance(t, env, "alice", 400, 600)
}

func TestRejectionEmitsEventWithoutBidRow(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 500, 1, time.Hour)
	credit(t, env, "alice", 1000)
	credit(t, env, "bob", 1000)

	_, err := env.engine.Submit(auction.AuctionID, "alice", 600, "")
	require.NoError(t, err)
	_, err = env.engine.Submit(auction.AuctionID, "bob", 600, "")
	require.Error(t, err)

	var bidCount int64
	require.NoError(t, env.db.Model(&types.Bid{}).
		Where("auction_id = ?", auction.AuctionID).
		Count(&bidCount).Error)
	assert.Equal(t, int64(1), bidCount, "rejected submissions never persist a bid")
	assert.Equal(t, int64(1), countEvents(t, env, types.EventBidRejected, auction.AuctionID))
}

func TestConcurrentBiddingKeepsBooksStraight(t *testing.T) {
	env := newTestEnv(t)
	auction := seedAuction(t, env, types.AuctionTypeForward, 100, 1, time.Hour)
	bidders := []string{"alice", "bob", "carol"}
	for _, bidder := range bidders {
		credit(t, env, bidder, 100000)
	}

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for i, bidder := range bidders {
			wg.Add(1)
			go func(bidder string, amount int64) {
				defer wg.Done()
				// Rejections and conflicts are expected under contention.
				_, _ = env.engine.Submit(auction.AuctionID, bidder, amount, "")
			}(bidder, int64(100+round*10+i))
		}
	}
	wg.Wait()

	var standing []types.Bid
	require.NoError(t, env.db.Where("auction_id = ? AND status = ?",
		auction.AuctionID, types.BidStatusActive).Find(&standing).Error)
	require.Len(t, standing, 1, "exactly one bid stands after the dust settles")

	current, err := env.engine.db.GetAuction(auction.AuctionID)
	require.NoError(t, err)
	assert.Equal(t, standing[0].Amount, current.CurrentBid)
	assert.Equal(t, standing[0].BidderID, current.HighestBidderID)

	// Only the leader holds a lock, and it equals their standing bid.
	for _, bidder := range bidders {
		account, err := env.ledger.GetAccountByUserID(bidder)
		require.NoError(t, err)
		if bidder == standing[0].BidderID {
			assert.Equal(t, standing[0].Amount, account.Locked)
		} else {
			assert.Zero(t, account.Locked, "non-leader %s still holds a lock", bidder)
		}
	}
	require.NoError(t, env.ledger.CheckGlobalBalance())
}
