package seed

// Seed states reported in Status.
const (
	StateSeeding = "seeding"
	StateSeeded  = "seeded"
	StateError   = "error"
)

// Status is the observable result of the latest reconciliation of a seed.
type Status struct {
	State string `json:"state"`

	// Changes holds the number of changed items handled per kind.
	Changes map[string]int `json:"changes,omitempty"`

	// LatestError holds the latest error message per kind. The key
	// "requires" is used for dependency errors.
	LatestError map[string]string `json:"latest_error,omitempty"`

	LatestReconcile string `json:"latest_reconcile,omitempty"` // RFC3339, UTC.
	Duration        string `json:"duration,omitempty"`
}
