package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bibbank/impairment-engine/internal/domain/valueobject"
)

// ErrInvalidStagingConfig is returned for ranges that do not form a
// contiguous, non-overlapping ladder starting at zero.
var ErrInvalidStagingConfig = errors.New("invalid staging config")

// RawBucket is a bucket as stored by the portfolio owner, before parsing.
type RawBucket struct {
	DaysRange string
	Rate      *decimal.Decimal // provision rate as a proportion; nil uses the default
}

// RawStagingConfig maps bucket names ("stage_1", "current", ...) to their raw settings.
type RawStagingConfig map[string]RawBucket

// Bucket is one parsed staging bucket.
type Bucket struct {
	Name  string
	Range valueobject.DaysRange
	Rate  decimal.Decimal // provision rate as a proportion; zero for ECL stages
}

// StagingConfig is an ordered ladder of buckets, least severe first.
// It is immutable for the duration of a run.
type StagingConfig struct {
	Regime  valueobject.Regime
	Buckets []Bucket
}

// Validate checks that the first bucket starts at zero, each bounded bucket
// ends where the next begins, and only the last bucket is open-ended.
func (c StagingConfig) Validate() error {
	if len(c.Buckets) == 0 {
		return fmt.Errorf("%w: no buckets", ErrInvalidStagingConfig)
	}
	if c.Buckets[0].Range.Min() != 0 {
		return fmt.Errorf("%w: bucket %s starts at %d, expected 0",
			ErrInvalidStagingConfig, c.Buckets[0].Name, c.Buckets[0].Range.Min())
	}

	last := len(c.Buckets) - 1
	for i, b := range c.Buckets {
		max, bounded := b.Range.Max()
		if i == last {
			if bounded {
				return fmt.Errorf("%w: last bucket %s must be open-ended, got %s",
					ErrInvalidStagingConfig, b.Name, b.Range)
			}
			break
		}
		if !bounded {
			return fmt.Errorf("%w: bucket %s is open-ended but is not the last bucket",
				ErrInvalidStagingConfig, b.Name)
		}
		if max <= b.Range.Min() {
			return fmt.Errorf("%w: bucket %s is empty (%s)", ErrInvalidStagingConfig, b.Name, b.Range)
		}
		next := c.Buckets[i+1]
		if next.Range.Min() != max {
			return fmt.Errorf("%w: bucket %s ends at %d but %s starts at %d",
				ErrInvalidStagingConfig, b.Name, max, next.Name, next.Range.Min())
		}
	}
	return nil
}

// Bucket returns the bucket with the given name.
func (c StagingConfig) Bucket(name string) (Bucket, bool) {
	for _, b := range c.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return Bucket{}, false
}

// RateFor returns the provision rate of the named bucket, or zero when unknown.
func (c StagingConfig) RateFor(name string) decimal.Decimal {
	if b, ok := c.Bucket(name); ok {
		return b.Rate
	}
	return decimal.Zero
}

// Echo renders the config back into its raw form, e.g. for run summaries.
func (c StagingConfig) Echo() map[string]string {
	out := make(map[string]string, len(c.Buckets))
	for _, b := range c.Buckets {
		out[b.Name] = b.Range.String()
	}
	return out
}
