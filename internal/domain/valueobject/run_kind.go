package valueobject

import "fmt"

// RunKind selects what a batch run computes for each loan.
type RunKind string

const (
	RunKindECLStaging      RunKind = "ECL_STAGING"
	RunKindLocalStaging    RunKind = "LOCAL_STAGING"
	RunKindECL             RunKind = "ECL"
	RunKindLocalImpairment RunKind = "LOCAL_IMPAIRMENT"
)

var validRunKinds = map[string]RunKind{
	string(RunKindECLStaging):      RunKindECLStaging,
	string(RunKindLocalStaging):    RunKindLocalStaging,
	string(RunKindECL):             RunKindECL,
	string(RunKindLocalImpairment): RunKindLocalImpairment,
}

// NewRunKind creates a RunKind from a raw string.
func NewRunKind(s string) (RunKind, error) {
	k, ok := validRunKinds[s]
	if !ok {
		return "", fmt.Errorf("invalid run kind: %q", s)
	}
	return k, nil
}

// Regime returns the staging regime the run kind classifies against.
func (k RunKind) Regime() Regime {
	switch k {
	case RunKindECLStaging, RunKindECL:
		return RegimeECL
	default:
		return RegimeLocal
	}
}

// IsStaging reports whether the run only assigns buckets.
func (k RunKind) IsStaging() bool {
	return k == RunKindECLStaging || k == RunKindLocalStaging
}

// String returns the raw run kind.
func (k RunKind) String() string { return string(k) }

// RunStatus is the terminal state of a batch run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)
