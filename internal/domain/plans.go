package domain

// Plan represents a premium subscription plan.
type Plan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AmountMinor  int64  `json:"amount"` // price in minor units (ZAR cents)
	Currency     string `json:"currency"`
	Interval     string `json:"interval"`
	DurationDays int    `json:"durationDays"`
	Description  string `json:"description"`
	Popular      bool   `json:"popular"`
}

// AvailablePlans returns all purchasable plans.
func AvailablePlans() []Plan {
	return []Plan{
		{
			ID:           "monthly",
			Name:         "Premium Monthly",
			AmountMinor:  17900, // R179.00
			Currency:     "ZAR",
			Interval:     "monthly",
			DurationDays: 30,
			Description:  "Monthly access to all premium features",
			Popular:      false,
		},
		{
			ID:           "annual",
			Name:         "Premium Annual",
			AmountMinor:  179900, // R1799.00
			Currency:     "ZAR",
			Interval:     "annually",
			DurationDays: 365,
			Description:  "Annual access to all premium features with 2 months free",
			Popular:      true,
		},
	}
}

// GetPlan returns the plan for a given ID.
func GetPlan(id string) (Plan, bool) {
	for _, p := range AvailablePlans() {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
