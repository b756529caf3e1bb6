package domain

// Constraints are the fixed, non-negotiable usage terms embedded in every
// consent token payload. They are constants of the system, not per-call
// parameters: every token carries all three flags set. The validator does not
// enforce them structurally; it carries and surfaces them, and enforcement is
// a contract binding the consumer of the data.
type Constraints struct {
	NoTraining       bool `json:"no_training"`
	ZeroRetention    bool `json:"zero_retention"`
	DataMinimization bool `json:"data_minimization"`
}

// SystemConstraints returns the usage terms attached to every grant.
func SystemConstraints() Constraints {
	return Constraints{
		NoTraining:       true,
		ZeroRetention:    true,
		DataMinimization: true,
	}
}
