// Package billing is the simulated premium upgrade path. There is no real
// payment processor behind it: choosing a plan waits out a fixed payment
// delay and then flips the account's premium flag through the identity
// machine.
package billing

// Plan is one of the fixed premium price points.
type Plan struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Period   string   `json:"period"`
	Savings  string   `json:"savings,omitempty"`
	Popular  bool     `json:"popular"`
	Features []string `json:"features"`
}

// plans is the fixed catalog shown in the upgrade modal.
var plans = []Plan{
	{
		ID:     "monthly",
		Name:   "Mensual",
		Price:  "$9.99",
		Period: "mes",
		Features: []string{
			"Todo lo de Gratis",
			"Modelos IA avanzados",
			"Exportación ilimitada",
			"Voz ElevenLabs",
			"Soporte prioritario",
		},
	},
	{
		ID:      "yearly",
		Name:    "Anual",
		Price:   "$99.99",
		Period:  "año",
		Savings: "Ahorras $19.89",
		Popular: true,
		Features: []string{
			"Todo lo de Mensual",
			"2 meses gratis",
			"Temas exclusivos",
			"Estadísticas avanzadas",
			"Acceso beta",
		},
	},
}

// Plans returns the plan catalog.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// ValidPlan reports whether the plan ID exists in the catalog.
func ValidPlan(id string) bool {
	for _, p := range plans {
		if p.ID == id {
			return true
		}
	}
	return false
}

// UpgradeRequest is the body of an upgrade submission.
type UpgradeRequest struct {
	Plan string `json:"plan" form:"plan"`
}
