package activity

// Kind identifies one synthetic activity a virtual user can perform.
type Kind string

const (
	KindBrowseProducts Kind = "browse_products"
	KindViewProduct    Kind = "view_product"
	KindSearchProducts Kind = "search_products"
	KindCreateOrder    Kind = "create_order"
	KindCheckHealth    Kind = "check_health"

	// Incident-simulation kinds. Executing one of these also produces
	// synthetic metric samples that feed the alert classifier.
	KindCPUSpike   Kind = "cpu_spike"
	KindMemoryLeak Kind = "memory_leak"
	KindErrorBurst Kind = "error_burst"
	KindDBTimeout  Kind = "db_timeout"
)

// Definition binds an activity kind to its selection weight.
// Selection probability is weight / sum(weights) over the catalog.
type Definition struct {
	Kind   Kind `json:"kind"`
	Weight int  `json:"weight"`
}

// IsIncident reports whether the kind simulates an application incident
// rather than plain user traffic.
func (k Kind) IsIncident() bool {
	switch k {
	case KindCPUSpike, KindMemoryLeak, KindErrorBurst, KindDBTimeout:
		return true
	}
	return false
}

// DefaultCatalog is the process-wide activity mix. Weights skew heavily
// toward read traffic, with a small fraction of simulated incidents.
func DefaultCatalog() []Definition {
	return []Definition{
		{Kind: KindBrowseProducts, Weight: 30},
		{Kind: KindViewProduct, Weight: 20},
		{Kind: KindSearchProducts, Weight: 15},
		{Kind: KindCreateOrder, Weight: 15},
		{Kind: KindCheckHealth, Weight: 10},
		{Kind: KindCPUSpike, Weight: 3},
		{Kind: KindMemoryLeak, Weight: 2},
		{Kind: KindErrorBurst, Weight: 3},
		{Kind: KindDBTimeout, Weight: 2},
	}
}
