package classify

// TaskKey names a task template for STRAY messages
type TaskKey string

// Task templates
const (
	TaskSaleActive             TaskKey = "SALE_ACTIVE_TASKS"
	TaskSaleSold               TaskKey = "SALE_SOLD_TASKS"
	TaskSaleClosing            TaskKey = "SALE_CLOSING_TASKS"
	TaskLeaseActive            TaskKey = "LEASE_ACTIVE_TASKS"
	TaskLeaseLeased            TaskKey = "LEASE_LEASED_TASKS"
	TaskLeaseClosing           TaskKey = "LEASE_CLOSING_TASKS"
	TaskLeaseActiveArlyn       TaskKey = "LEASE_ACTIVE_TASKS_ARLYN"
	TaskRelistDealSale         TaskKey = "RELIST_LISTING_DEAL_SALE"
	TaskRelistDealLease        TaskKey = "RELIST_LISTING_DEAL_LEASE"
	TaskBuyerDeal              TaskKey = "BUYER_DEAL"
	TaskBuyerDealClosing       TaskKey = "BUYER_DEAL_CLOSING_TASKS"
	TaskLeaseTenantDeal        TaskKey = "LEASE_TENANT_DEAL"
	TaskLeaseTenantDealClosing TaskKey = "LEASE_TENANT_DEAL_CLOSING_TASKS"
	TaskPreconDeal             TaskKey = "PRECON_DEAL"
	TaskMutualRelease          TaskKey = "MUTUAL_RELEASE_STEPS"
	TaskOpsMisc                TaskKey = "OPS_MISC_TASK"
)

// TaskKeys lists every task template
var TaskKeys = []TaskKey{
	TaskSaleActive, TaskSaleSold, TaskSaleClosing,
	TaskLeaseActive, TaskLeaseLeased, TaskLeaseClosing, TaskLeaseActiveArlyn,
	TaskRelistDealSale, TaskRelistDealLease,
	TaskBuyerDeal, TaskBuyerDealClosing,
	TaskLeaseTenantDeal, TaskLeaseTenantDealClosing,
	TaskPreconDeal, TaskMutualRelease, TaskOpsMisc,
}

// Valid reports whether k is a known task template
func (k TaskKey) Valid() bool {
	for _, known := range TaskKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Task categories
const (
	CategoryMarketing = "MARKETING"
	CategoryAdmin     = "ADMIN"
	CategoryOther     = "OTHER"
)

// Category maps a task template to its work category
func (k TaskKey) Category() string {
	switch k {
	case TaskSaleActive, TaskSaleSold, TaskLeaseActive, TaskLeaseLeased:
		return CategoryMarketing
	case TaskSaleClosing, TaskLeaseClosing:
		return CategoryAdmin
	default:
		return CategoryOther
	}
}

// GroupKey names a listing container for GROUP messages
type GroupKey string

// Listing containers
const (
	GroupSaleListing           GroupKey = "SALE_LISTING"
	GroupLeaseListing          GroupKey = "LEASE_LISTING"
	GroupSaleLeaseListing      GroupKey = "SALE_LEASE_LISTING"
	GroupSoldSaleLeaseListing  GroupKey = "SOLD_SALE_LEASE_LISTING"
	GroupRelistListing         GroupKey = "RELIST_LISTING"
	GroupRelistDealSaleOrLease GroupKey = "RELIST_LISTING_DEAL_SALE_OR_LEASE"
	GroupBuyOrLeased           GroupKey = "BUY_OR_LEASED"
	GroupMarketingAgenda       GroupKey = "MARKETING_AGENDA_TEMPLATE"
)

// GroupKeys lists every listing container
var GroupKeys = []GroupKey{
	GroupSaleListing, GroupLeaseListing, GroupSaleLeaseListing, GroupSoldSaleLeaseListing,
	GroupRelistListing, GroupRelistDealSaleOrLease, GroupBuyOrLeased, GroupMarketingAgenda,
}

// Valid reports whether k is a known listing container
func (k GroupKey) Valid() bool {
	for _, known := range GroupKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Listing types
const (
	ListingSale  = "SALE"
	ListingLease = "LEASE"
)
