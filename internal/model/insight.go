package model

// HealthInsight is read-only maternal guidance keyed by gestational week.
type HealthInsight struct {
	ID        string `json:"id"`
	Week      int    `json:"week"`
	Trimester int    `json:"trimester"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}
