package migration

import (
	"fmt"

	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	limitsdomain "github.com/smallbiznis/creditline/internal/limits/domain"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"gorm.io/gorm"
)

// usageRecordIndex makes a usage record deductible once. mysql has no partial
// indexes and relies on the duplicate check under the user row lock.
const usageRecordIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_usage_record_deduction
	ON transactions (usage_record_id) WHERE transaction_type = 'deduction'`

// Models lists every table the schema owns.
func Models() []any {
	return []any{
		&tenantdomain.Tenant{},
		&licensetierdomain.LicenseTier{},
		&licensepooldomain.LicensePool{},
		&userdomain.User{},
		&ledgerdomain.Transaction{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionHistory{},
		&limitsdomain.Flow{},
	}
}

// AutoMigrate builds the schema from the gorm models. Used for sqlite, mysql
// and tests; postgres runs the embedded SQL instead.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	switch conn.Dialector.Name() {
	case "sqlite", "postgres":
		if err := conn.Exec(usageRecordIndex).Error; err != nil {
			return fmt.Errorf("create usage record index: %w", err)
		}
	}
	return nil
}
