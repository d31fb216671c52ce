package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Account{}, &types.LedgerEntry{}))
	seedSystemAccounts(t, db)
	return db
}

func seedSystemAccounts(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, userID := range []string{types.SystemAccountTreasury, types.SystemAccountBurn} {
		require.NoError(t, db.Create(&types.Account{
			AccountID: "ACC_system_" + userID,
			UserID:    userID,
		}).Error)
	}
}

func TestCreditCreatesAccountAndEntry(t *testing.T) {
	service := NewService(newTestDB(t))

	account, err := service.Credit("alice", 5000, "faucet")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), account.Available)
	assert.Equal(t, int64(0), account.Locked)
	assert.Equal(t, int64(0), account.Pending)

	entries, err := service.GetEntries("alice", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.EntryTypeCredit, entries[0].Type)
	assert.Equal(t, int64(5000), entries[0].Amount)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	service := NewService(newTestDB(t))

	_, err := service.Credit("alice", 0, "")
	require.Error(t, err)
	assert.True(t, domainerrors.IsValidation(err))

	_, err = service.Credit("alice", -10, "")
	require.Error(t, err)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestLockMovesAvailableToLocked(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)

	require.NoError(t, service.db.LockTx(db, "alice", 400, "AUC_1"))

	account, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(600), account.Available)
	assert.Equal(t, int64(400), account.Locked)
}

func TestLockDistinguishesMissingAccountFromShortfall(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)

	err := service.db.LockTx(db, "ghost", 100, "AUC_1")
	require.Error(t, err)
	assert.True(t, domainerrors.IsNotFound(err))
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeAccountNotFound))

	_, err = service.Credit("alice", 50, "")
	require.NoError(t, err)
	err = service.db.LockTx(db, "alice", 100, "AUC_1")
	require.Error(t, err)
	assert.True(t, domainerrors.IsInsufficientFunds(err))
}

func TestUnlockReturnsFundsToAvailable(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)
	require.NoError(t, service.db.LockTx(db, "alice", 400, "AUC_1"))

	require.NoError(t, service.db.UnlockTx(db, "alice", 400, "AUC_1"))

	account, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), account.Available)
	assert.Equal(t, int64(0), account.Locked)
}

func TestUnlockShortfallIsInvariantViolation(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)

	err = service.db.UnlockTx(db, "alice", 400, "AUC_1")
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvariant(err))
}

func TestHoldForEscrowMovesLockedToPending(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)
	require.NoError(t, service.db.LockTx(db, "alice", 750, "AUC_1"))

	require.NoError(t, service.db.HoldForEscrowTx(db, "alice", 750, "ESC_1"))

	account, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(250), account.Available)
	assert.Equal(t, int64(0), account.Locked)
	assert.Equal(t, int64(750), account.Pending)
}

func TestReleaseEscrowSplitsAcrossParties(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("buyer", 2000, "")
	require.NoError(t, err)
	require.NoError(t, service.db.LockTx(db, "buyer", 1000, "AUC_1"))
	require.NoError(t, service.db.HoldForEscrowTx(db, "buyer", 1000, "ESC_1"))

	require.NoError(t, service.db.ReleaseEscrowTx(db, "buyer", "seller", 1000, 970, 15, 15, "ESC_1"))

	buyer, err := service.GetBalance("buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), buyer.Available)
	assert.Equal(t, int64(0), buyer.Pending)

	seller, err := service.GetBalance("seller")
	require.NoError(t, err)
	assert.Equal(t, int64(970), seller.Available)

	treasury, err := service.GetBalance(types.SystemAccountTreasury)
	require.NoError(t, err)
	assert.Equal(t, int64(15), treasury.Available)

	burn, err := service.GetBalance(types.SystemAccountBurn)
	require.NoError(t, err)
	assert.Equal(t, int64(15), burn.Available)

	require.NoError(t, service.db.CheckGlobalBalance())
}

func TestReleaseEscrowRejectsMismatchedSplit(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("buyer", 2000, "")
	require.NoError(t, err)
	require.NoError(t, service.db.LockTx(db, "buyer", 1000, "AUC_1"))
	require.NoError(t, service.db.HoldForEscrowTx(db, "buyer", 1000, "ESC_1"))

	err = service.db.ReleaseEscrowTx(db, "buyer", "seller", 1000, 900, 15, 15, "ESC_1")
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvariant(err))
}

func TestRefundEscrowReturnsFullAmount(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("buyer", 1000, "")
	require.NoError(t, err)
	require.NoError(t, service.db.LockTx(db, "buyer", 800, "AUC_1"))
	require.NoError(t, service.db.HoldForEscrowTx(db, "buyer", 800, "ESC_1"))

	require.NoError(t, service.db.RefundEscrowTx(db, "buyer", 800, "ESC_1"))

	buyer, err := service.GetBalance("buyer")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), buyer.Available)
	assert.Equal(t, int64(0), buyer.Pending)
}

func TestTransferBetweenUsers(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)

	require.NoError(t, service.Transfer("alice", "bob", 300, "gift"))

	alice, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(700), alice.Available)

	bob, err := service.GetBalance("bob")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bob.Available)

	err = service.Transfer("alice", "bob", 10000, "too much")
	require.Error(t, err)
	assert.True(t, domainerrors.IsInsufficientFunds(err))

	err = service.Transfer("alice", "alice", 10, "self")
	require.Error(t, err)
	assert.True(t, domainerrors.IsValidation(err))
}

func TestBurnReducesCirculatingSupply(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)

	require.NoError(t, service.Burn("alice", 250, "manual burn"))

	alice, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(750), alice.Available)

	supply, err := service.GetSupply()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), supply.TotalMinted)
	assert.Equal(t, int64(250), supply.Burned)
	assert.Equal(t, int64(750), supply.Circulating)

	require.NoError(t, service.db.CheckGlobalBalance())
}

func TestFrozenAccountRejectsMutations(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)

	require.NoError(t, service.db.FreezeAccount("alice"))

	_, err = service.Credit("alice", 100, "")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeAccountFrozen))

	err = service.db.LockTx(db, "alice", 100, "AUC_1")
	require.Error(t, err)
	assert.True(t, domainerrors.HasCode(err, domainerrors.CodeAccountFrozen))

	// Reads still work on frozen accounts.
	account, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.True(t, account.Frozen)
	assert.Equal(t, int64(1000), account.Available)
}

func TestFreezeIfInvariant(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)

	// Validation errors must not freeze anything.
	service.db.FreezeIfInvariant(domainerrors.Validation(domainerrors.CodeBidTooLow, "too low"), "alice")
	account, err := service.GetBalance("alice")
	require.NoError(t, err)
	assert.False(t, account.Frozen)

	service.db.FreezeIfInvariant(domainerrors.Invariant(domainerrors.CodeInvariantViolation, "drift"), "alice")
	account, err = service.GetBalance("alice")
	require.NoError(t, err)
	assert.True(t, account.Frozen)
}

func TestCheckGlobalBalanceDetectsDrift(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "")
	require.NoError(t, err)
	require.NoError(t, service.db.CheckGlobalBalance())

	// Tamper with a balance behind the ledger's back.
	require.NoError(t, db.Exec("UPDATE accounts SET available = available + 1 WHERE user_id = ?", "alice").Error)

	err = service.db.CheckGlobalBalance()
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvariant(err))
}

func TestGetEntriesForUserOrdersNewestFirst(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	_, err := service.Credit("alice", 1000, "first")
	require.NoError(t, err)
	require.NoError(t, service.db.LockTx(db, "alice", 100, "AUC_1"))
	require.NoError(t, service.db.UnlockTx(db, "alice", 100, "AUC_1"))

	entries, err := service.GetEntries("alice", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.EntryTypeUnlock, entries[0].Type)
	assert.Equal(t, types.EntryTypeLock, entries[1].Type)
}
