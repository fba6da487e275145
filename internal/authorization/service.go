package authorization

import "context"

// PlatformDomain scopes objects that belong to no tenant, such as license
// tiers and the tenant directory. Only superadmins and system actors hold
// roles in it.
const PlatformDomain = "platform"

const (
	ActorSystem     = "system"
	ActorUserPrefix = "user:"
)

const (
	ObjectTenant       = "tenant"
	ObjectLicenseTier  = "license_tier"
	ObjectUser         = "user"
	ObjectLicense      = "license"
	ObjectPool         = "license_pool"
	ObjectCredits      = "credits"
	ObjectLimits       = "limits"
	ObjectTransaction  = "transaction"
	ObjectSubscription = "subscription"
	ObjectExecution    = "execution"
	ObjectPricing      = "pricing"
)

const (
	ActionTenantCreate = "tenant.create"
	ActionTenantView   = "tenant.view"
	ActionTenantUpdate = "tenant.update"
	ActionTenantDelete = "tenant.delete"

	ActionTierCreate = "license_tier.create"
	ActionTierView   = "license_tier.view"
	ActionTierUpdate = "license_tier.update"
	ActionTierDelete = "license_tier.delete"

	ActionUserCreate = "user.create"
	ActionUserView   = "user.view"

	ActionLicenseAssign   = "license.assign"
	ActionLicenseUnassign = "license.unassign"
	ActionLicenseUpgrade  = "license.upgrade"

	ActionPoolView   = "license_pool.view"
	ActionPoolUpdate = "license_pool.update"

	ActionCreditsView   = "credits.view"
	ActionCreditsAdd    = "credits.add"
	ActionCreditsRefund = "credits.refund"
	ActionCreditsCheck  = "credits.check"

	ActionLimitsView = "limits.view"

	ActionTransactionView = "transaction.view"

	ActionSubscriptionCreate     = "subscription.create"
	ActionSubscriptionView       = "subscription.view"
	ActionSubscriptionRenew      = "subscription.renew"
	ActionSubscriptionCancel     = "subscription.cancel"
	ActionSubscriptionChangeTier = "subscription.change_tier"

	ActionExecutionStart    = "execution.start"
	ActionExecutionRecord   = "execution.record"
	ActionExecutionFinalize = "execution.finalize"

	ActionPricingReload = "pricing.reload"
)

type Service interface {
	// Authorize returns nil when actor may perform action on object inside
	// tenantID, or PlatformDomain for tenant-less objects.
	Authorize(ctx context.Context, actor string, tenantID string, object string, action string) error
}

// UserActor formats the actor string for a platform user id.
func UserActor(userID string) string {
	return ActorUserPrefix + userID
}
