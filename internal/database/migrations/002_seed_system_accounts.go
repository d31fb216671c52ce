package migrations

import (
	"github.com/sokoni/auction-engine/internal/types"
	"gorm.io/gorm"
)

// SeedSystemAccounts ensures the treasury and burn accounts exist.
// Settlement fee splits credit these accounts, so they must be present
// before the first auction closes.
func SeedSystemAccounts(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Account{}); err != nil {
		return err
	}

	for _, userID := range []string{types.SystemAccountTreasury, types.SystemAccountBurn} {
		account := types.Account{
			AccountID: "ACC_system_" + userID,
			UserID:    userID,
		}
		if err := db.Where("user_id = ?", userID).FirstOrCreate(&account).Error; err != nil {
			return err
		}
	}

	return nil
}
