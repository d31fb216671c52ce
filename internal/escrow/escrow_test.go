package escrow

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/fees"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Account{}, &types.LedgerEntry{},
		&types.EscrowTransaction{}, &types.Dispute{},
		&types.OutboxEvent{},
	))
	for _, userID := range []string{types.SystemAccountTreasury, types.SystemAccountBurn} {
		require.NoError(t, db.Create(&types.Account{
			AccountID: "ACC_system_" + userID,
			UserID:    userID,
		}).Error)
	}
	calc := fees.NewCalculator(fees.DefaultFeeRateBps, fees.DefaultBurnShareBps)
	return NewService(db, ledger.NewDatabase(db), calc, events.NewRecorder(), 7*24*time.Hour, true)
}

// fundEscrow credits and locks the buyer's tokens, then funds an escrow
// the way an auction close does.
func fundEscrow(t *testing.T, s *Service, buyerID, sellerID string, amount int64) *types.EscrowTransaction {
	t.Helper()
	auction := &types.Auction{
		AuctionID: "AUC_" + uuid.New().String(),
		SellerID:  sellerID,
		Type:      types.AuctionTypeForward,
		Status:    types.AuctionStatusEnded,
	}
	tx := s.db.db.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, s.ledger.CreditTx(tx, buyerID, amount, auction.AuctionID, "test funding"))
	require.NoError(t, s.ledger.LockTx(tx, buyerID, amount, auction.AuctionID))
	escrow, err := s.FundFromCloseTx(tx, auction, buyerID, amount)
	require.NoError(t, err)
	require.NoError(t, tx.Commit().Error)
	return escrow
}

func deliverEscrow(t *testing.T, s *Service, escrow *types.EscrowTransaction) {
	t.Helper()
	_, err := s.MarkDelivered(escrow.EscrowID, escrow.SellerID)
	require.NoError(t, err)
}

func backdateDeadline(t *testing.T, s *Service, escrowID string) {
	t.Helper()
	require.NoError(t, s.db.db.Model(&types.EscrowTransaction{}).
		Where("escrow_id = ?", escrowID).
		Update("delivery_deadline", time.Now().Add(-time.Minute)).Error)
}

func requireBalance(t *testing.T, s *Service, userID string, available, locked, pending int64) {
	t.Helper()
	account, err := s.ledger.GetAccountByUserID(userID)
	require.NoError(t, err)
	assert.Equal(t, available, account.Available, "available for %s", userID)
	assert.Equal(t, locked, account.Locked, "locked for %s", userID)
	assert.Equal(t, pending, account.Pending, "pending for %s", userID)
}

func recordedEventTypes(t *testing.T, s *Service) []string {
	t.Helper()
	var rows []types.OutboxEvent
	require.NoError(t, s.db.db.Order("id asc").Find(&rows).Error)
	found := make([]string, 0, len(rows))
	for _, row := range rows {
		found = append(found, row.Type)
	}
	return found
}

func TestFundFromClose(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)

	assert.Equal(t, types.EscrowStatusFunded, escrow.Status)
	assert.Equal(t, int64(1000), escrow.Amount)
	requireBalance(t, s, "buyer_1", 0, 0, 1000)
	assert.Contains(t, recordedEventTypes(t, s), types.EventEscrowFunded)
}

func TestMarkDelivered(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)

	t.Run("only the seller can mark delivery", func(t *testing.T) {
		_, err := s.MarkDelivered(escrow.EscrowID, "buyer_1")
		require.Error(t, err)
		assert.True(t, domainerrors.IsUnauthorized(err))
	})

	t.Run("seller starts the confirmation window", func(t *testing.T) {
		delivered, err := s.MarkDelivered(escrow.EscrowID, "seller_1")
		require.NoError(t, err)
		assert.Equal(t, types.EscrowStatusDelivered, delivered.Status)
		assert.False(t, delivered.DeliveredAt.IsZero())
		assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), delivered.DeliveryDeadline, time.Minute)
	})

	t.Run("delivery cannot be claimed twice", func(t *testing.T) {
		_, err := s.MarkDelivered(escrow.EscrowID, "seller_1")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})
}

func TestConfirmDeliveryReleasesFunds(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	deliverEscrow(t, s, escrow)

	settled, err := s.ConfirmDelivery(escrow.EscrowID, "buyer_1", 5)
	require.NoError(t, err)

	assert.Equal(t, types.EscrowStatusCompleted, settled.Status)
	assert.Equal(t, types.EscrowOutcomeReleased, settled.Outcome)
	assert.Equal(t, int64(970), settled.SellerProceeds)
	assert.Equal(t, int64(30), settled.FeeAmount)
	assert.Equal(t, int64(15), settled.BurnedAmount)
	assert.Equal(t, 5, settled.Rating)
	assert.False(t, settled.CompletedAt.IsZero())

	requireBalance(t, s, "buyer_1", 0, 0, 0)
	requireBalance(t, s, "seller_1", 970, 0, 0)
	requireBalance(t, s, types.SystemAccountTreasury, 15, 0, 0)
	requireBalance(t, s, types.SystemAccountBurn, 15, 0, 0)
	require.NoError(t, s.ledger.CheckGlobalBalance())

	found := recordedEventTypes(t, s)
	assert.Contains(t, found, types.EventEscrowDelivered)
	assert.Contains(t, found, types.EventTokensBurned)
	assert.Contains(t, found, types.EventEscrowCompleted)
}

func TestConfirmDeliveryRules(t *testing.T) {
	s := newTestService(t)

	t.Run("only the buyer can confirm", func(t *testing.T) {
		escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
		deliverEscrow(t, s, escrow)
		_, err := s.ConfirmDelivery(escrow.EscrowID, "seller_1", 0)
		require.Error(t, err)
		assert.True(t, domainerrors.IsUnauthorized(err))
	})

	t.Run("cannot confirm before delivery", func(t *testing.T) {
		escrow := fundEscrow(t, s, "buyer_2", "seller_1", 1000)
		_, err := s.ConfirmDelivery(escrow.EscrowID, "buyer_2", 0)
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})

	t.Run("cannot confirm twice", func(t *testing.T) {
		escrow := fundEscrow(t, s, "buyer_3", "seller_1", 1000)
		deliverEscrow(t, s, escrow)
		_, err := s.ConfirmDelivery(escrow.EscrowID, "buyer_3", 0)
		require.NoError(t, err)
		_, err = s.ConfirmDelivery(escrow.EscrowID, "buyer_3", 0)
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})

	t.Run("rating outside 1-5 is rejected", func(t *testing.T) {
		escrow := fundEscrow(t, s, "buyer_4", "seller_1", 1000)
		deliverEscrow(t, s, escrow)
		_, err := s.ConfirmDelivery(escrow.EscrowID, "buyer_4", 6)
		require.Error(t, err)
		assert.True(t, domainerrors.IsValidation(err))
	})
}

func TestUnfundedEscrowCannotSettle(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)

	// Roll the status back to the transient funding state, as an
	// interrupted close would leave it.
	require.NoError(t, s.db.db.Model(&types.EscrowTransaction{}).
		Where("escrow_id = ?", escrow.EscrowID).
		Update("status", types.EscrowStatusPending).Error)

	_, err := s.MarkDelivered(escrow.EscrowID, "seller_1")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))

	_, err = s.ConfirmDelivery(escrow.EscrowID, "buyer_1", 0)
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))

	err = s.AutoRelease(escrow.EscrowID)
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))

	// Every refusal rolled back whole: the held funds never moved and the
	// settlement's seller account was never created.
	requireBalance(t, s, "buyer_1", 0, 0, 1000)
	_, err = s.ledger.GetAccountByUserID("seller_1")
	assert.True(t, domainerrors.IsNotFound(err))
	stuck, err := s.db.GetEscrow(escrow.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, types.EscrowStatusPending, stuck.Status)
}

func TestAutoRelease(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	deliverEscrow(t, s, escrow)

	t.Run("not due before the deadline", func(t *testing.T) {
		err := s.AutoRelease(escrow.EscrowID)
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})

	t.Run("settles once the window lapses", func(t *testing.T) {
		backdateDeadline(t, s, escrow.EscrowID)
		require.NoError(t, s.AutoRelease(escrow.EscrowID))

		settled, err := s.db.GetEscrow(escrow.EscrowID)
		require.NoError(t, err)
		assert.Equal(t, types.EscrowStatusCompleted, settled.Status)
		assert.Equal(t, types.EscrowOutcomeAutoReleased, settled.Outcome)
		requireBalance(t, s, "seller_1", 970, 0, 0)
		require.NoError(t, s.ledger.CheckGlobalBalance())
	})
}

func TestAutoReleaseSweepSkipsDisputed(t *testing.T) {
	s := newTestService(t)
	clean := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	contested := fundEscrow(t, s, "buyer_2", "seller_1", 2000)
	deliverEscrow(t, s, clean)
	deliverEscrow(t, s, contested)
	backdateDeadline(t, s, clean.EscrowID)
	backdateDeadline(t, s, contested.EscrowID)

	_, err := s.FileDispute(contested.EscrowID, "buyer_2", "item never arrived")
	require.NoError(t, err)

	due, err := s.db.GetDueForAutoRelease(time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, clean.EscrowID, due[0].EscrowID)

	processor := NewProcessor(s, time.Minute, true)
	require.NoError(t, processor.releaseDue())

	settled, err := s.db.GetEscrow(clean.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, types.EscrowStatusCompleted, settled.Status)

	frozen, err := s.db.GetEscrow(contested.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, types.EscrowStatusDisputed, frozen.Status)
	requireBalance(t, s, "buyer_2", 0, 0, 2000)
}

func TestFileDispute(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)

	t.Run("strangers cannot dispute", func(t *testing.T) {
		_, err := s.FileDispute(escrow.EscrowID, "bystander", "not my trade")
		require.Error(t, err)
		assert.True(t, domainerrors.IsUnauthorized(err))
	})

	t.Run("a party freezes the escrow", func(t *testing.T) {
		dispute, err := s.FileDispute(escrow.EscrowID, "buyer_1", "wrong item shipped")
		require.NoError(t, err)
		assert.Equal(t, types.DisputeStatusOpen, dispute.Status)
		assert.Equal(t, "buyer_1", dispute.InitiatorID)
		assert.Equal(t, "seller_1", dispute.RespondentID)

		frozen, err := s.db.GetEscrow(escrow.EscrowID)
		require.NoError(t, err)
		assert.Equal(t, types.EscrowStatusDisputed, frozen.Status)
		assert.Equal(t, types.EscrowStatusFunded, frozen.PreDisputeStatus)
	})

	t.Run("one open dispute at a time", func(t *testing.T) {
		_, err := s.FileDispute(escrow.EscrowID, "seller_1", "buyer is stalling")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeDisputeAlreadyOpen))
	})

	t.Run("settled escrows cannot be disputed", func(t *testing.T) {
		done := fundEscrow(t, s, "buyer_2", "seller_1", 500)
		deliverEscrow(t, s, done)
		_, err := s.ConfirmDelivery(done.EscrowID, "buyer_2", 0)
		require.NoError(t, err)
		_, err = s.FileDispute(done.EscrowID, "buyer_2", "changed my mind")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
	})
}

func TestResolveDisputeRefund(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	_, err := s.FileDispute(escrow.EscrowID, "buyer_1", "seller unresponsive")
	require.NoError(t, err)

	dispute, err := s.db.GetOpenDisputeByEscrowTx(s.db.db, escrow.EscrowID)
	require.NoError(t, err)
	require.NotNil(t, dispute)

	settled, err := s.ResolveDispute(dispute.DisputeID, "admin_1", types.ResolutionRefund, "seller never shipped")
	require.NoError(t, err)

	assert.Equal(t, types.EscrowStatusCompleted, settled.Status)
	assert.Equal(t, types.EscrowOutcomeRefunded, settled.Outcome)
	assert.Zero(t, settled.SellerProceeds)
	assert.Zero(t, settled.BurnedAmount)

	requireBalance(t, s, "buyer_1", 1000, 0, 0)
	requireBalance(t, s, types.SystemAccountTreasury, 0, 0, 0)
	require.NoError(t, s.ledger.CheckGlobalBalance())

	resolved, err := s.db.GetDispute(dispute.DisputeID)
	require.NoError(t, err)
	assert.Equal(t, types.DisputeStatusResolved, resolved.Status)
	assert.Equal(t, "admin_1", resolved.AdminID)
	assert.Equal(t, "seller never shipped", resolved.Resolution)
	assert.Contains(t, recordedEventTypes(t, s), types.EventDisputeResolved)
}

func TestResolveDisputeSplitOddAmount(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1001)
	deliverEscrow(t, s, escrow)
	_, err := s.FileDispute(escrow.EscrowID, "buyer_1", "half the lot was damaged")
	require.NoError(t, err)

	dispute, err := s.db.GetOpenDisputeByEscrowTx(s.db.db, escrow.EscrowID)
	require.NoError(t, err)

	settled, err := s.ResolveDispute(dispute.DisputeID, "admin_1", types.ResolutionSplit, "partial delivery")
	require.NoError(t, err)

	// 1001 splits into a 501 refund and a 500 release. The release pays
	// a 15 fee, 7 of it burned, leaving 485 for the seller.
	assert.Equal(t, types.EscrowOutcomeSplit, settled.Outcome)
	assert.Equal(t, int64(485), settled.SellerProceeds)
	assert.Equal(t, int64(15), settled.FeeAmount)
	assert.Equal(t, int64(7), settled.BurnedAmount)

	requireBalance(t, s, "buyer_1", 501, 0, 0)
	requireBalance(t, s, "seller_1", 485, 0, 0)
	requireBalance(t, s, types.SystemAccountTreasury, 8, 0, 0)
	requireBalance(t, s, types.SystemAccountBurn, 7, 0, 0)
	require.NoError(t, s.ledger.CheckGlobalBalance())
}

func TestResolveDisputeRelease(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	deliverEscrow(t, s, escrow)
	_, err := s.FileDispute(escrow.EscrowID, "seller_1", "buyer refuses to confirm")
	require.NoError(t, err)

	dispute, err := s.db.GetOpenDisputeByEscrowTx(s.db.db, escrow.EscrowID)
	require.NoError(t, err)

	investigating, err := s.AssignDispute(dispute.DisputeID, "admin_1")
	require.NoError(t, err)
	assert.Equal(t, types.DisputeStatusInvestigating, investigating.Status)
	assert.Equal(t, "admin_1", investigating.AdminID)

	settled, err := s.ResolveDispute(dispute.DisputeID, "admin_1", types.ResolutionRelease, "delivery proof provided")
	require.NoError(t, err)
	assert.Equal(t, types.EscrowOutcomeReleased, settled.Outcome)
	requireBalance(t, s, "seller_1", 970, 0, 0)
	require.NoError(t, s.ledger.CheckGlobalBalance())
}

func TestResolveDisputeRules(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	_, err := s.FileDispute(escrow.EscrowID, "buyer_1", "no contact")
	require.NoError(t, err)
	dispute, err := s.db.GetOpenDisputeByEscrowTx(s.db.db, escrow.EscrowID)
	require.NoError(t, err)

	t.Run("unknown outcome is rejected", func(t *testing.T) {
		_, err := s.ResolveDispute(dispute.DisputeID, "admin_1", "COMPROMISE", "")
		require.Error(t, err)
		assert.True(t, domainerrors.IsValidation(err))
	})

	t.Run("cannot resolve twice", func(t *testing.T) {
		_, err := s.ResolveDispute(dispute.DisputeID, "admin_1", types.ResolutionRefund, "done")
		require.NoError(t, err)
		_, err = s.ResolveDispute(dispute.DisputeID, "admin_1", types.ResolutionRefund, "again")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeDisputeNotOpen))
	})

	t.Run("cannot assign a settled dispute", func(t *testing.T) {
		_, err := s.AssignDispute(dispute.DisputeID, "admin_2")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeDisputeNotOpen))
	})
}

func TestCloseDisputeResumesEscrow(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)
	deliverEscrow(t, s, escrow)
	backdateDeadline(t, s, escrow.EscrowID)
	_, err := s.FileDispute(escrow.EscrowID, "buyer_1", "tracking looks stuck")
	require.NoError(t, err)
	dispute, err := s.db.GetOpenDisputeByEscrowTx(s.db.db, escrow.EscrowID)
	require.NoError(t, err)

	resumed, err := s.CloseDispute(dispute.DisputeID, "admin_1", "tracking updated, package moving")
	require.NoError(t, err)

	assert.Equal(t, types.EscrowStatusDelivered, resumed.Status)
	assert.Empty(t, resumed.PreDisputeStatus)
	assert.True(t, resumed.DeliveryDeadline.After(time.Now()), "dismissal grants a fresh confirmation window")

	closed, err := s.db.GetDispute(dispute.DisputeID)
	require.NoError(t, err)
	assert.Equal(t, types.DisputeStatusClosed, closed.Status)
	assert.Contains(t, recordedEventTypes(t, s), types.EventDisputeClosed)

	// The trade continues as if never contested.
	settled, err := s.ConfirmDelivery(escrow.EscrowID, "buyer_1", 4)
	require.NoError(t, err)
	assert.Equal(t, types.EscrowOutcomeReleased, settled.Outcome)
}

func TestGetEscrowForUser(t *testing.T) {
	s := newTestService(t)
	escrow := fundEscrow(t, s, "buyer_1", "seller_1", 1000)

	for _, caller := range []string{"buyer_1", "seller_1"} {
		got, err := s.GetEscrowForUser(escrow.EscrowID, caller, false)
		require.NoError(t, err)
		assert.Equal(t, escrow.EscrowID, got.EscrowID)
	}

	_, err := s.GetEscrowForUser(escrow.EscrowID, "admin_1", true)
	require.NoError(t, err)

	_, err = s.GetEscrowForUser(escrow.EscrowID, "bystander", false)
	require.Error(t, err)
	assert.True(t, domainerrors.IsUnauthorized(err))
}
