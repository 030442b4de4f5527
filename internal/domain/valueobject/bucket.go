package valueobject

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Regime
// ---------------------------------------------------------------------------

// Regime identifies the accounting scheme a staging configuration belongs to.
type Regime string

const (
	RegimeECL   Regime = "ecl"
	RegimeLocal Regime = "local_impairment"
)

// ---------------------------------------------------------------------------
// Stage – ECL risk bucket
// ---------------------------------------------------------------------------

// Stage is the ECL risk bucket (1 = performing, 3 = credit impaired).
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
	Stage3 Stage = 3
)

// ECLStages lists the stages from least to most severe.
var ECLStages = []Stage{Stage1, Stage2, Stage3}

// BucketName returns the configuration key of the stage, e.g. "stage_1".
func (s Stage) BucketName() string { return fmt.Sprintf("stage_%d", int(s)) }

// String returns the display name, e.g. "Stage 1".
func (s Stage) String() string { return fmt.Sprintf("Stage %d", int(s)) }

// Valid reports whether s is one of the three stages.
func (s Stage) Valid() bool { return s >= Stage1 && s <= Stage3 }

// StageFromBucketName parses "stage_1".."stage_3".
func StageFromBucketName(name string) (Stage, error) {
	for _, s := range ECLStages {
		if s.BucketName() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("invalid ECL stage: %q", name)
}

// ---------------------------------------------------------------------------
// Category – regulatory risk bucket
// ---------------------------------------------------------------------------

// Category is the regulatory impairment classification of a loan.
type Category string

const (
	CategoryCurrent     Category = "current"
	CategoryOLEM        Category = "olem"
	CategorySubstandard Category = "substandard"
	CategoryDoubtful    Category = "doubtful"
	CategoryLoss        Category = "loss"
)

// RegulatoryCategories lists the categories from least to most severe.
var RegulatoryCategories = []Category{
	CategoryCurrent,
	CategoryOLEM,
	CategorySubstandard,
	CategoryDoubtful,
	CategoryLoss,
}

// NewCategory validates a raw category name.
func NewCategory(s string) (Category, error) {
	for _, c := range RegulatoryCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid impairment category: %q", s)
}

// String returns the configuration key of the category.
func (c Category) String() string { return string(c) }

// Severity returns the zero-based rank of the category (current = 0).
func (c Category) Severity() int {
	for i, cat := range RegulatoryCategories {
		if cat == c {
			return i
		}
	}
	return -1
}
