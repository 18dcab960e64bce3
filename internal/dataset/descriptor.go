// Package dataset turns a (year, category) pair into one queryable table:
// it derives the twelve monthly sources, fetches them, registers the
// buffers with the engine and materializes taxi_<year>.
package dataset

import (
	"fmt"
	"regexp"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

// Known trip record categories.
const (
	CategoryGreen  = "green"
	CategoryYellow = "yellow"
	CategoryFHV    = "fhv"
)

// MonthsPerYear is the number of monthly files a full dataset has.
const MonthsPerYear = 12

var categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Descriptor identifies a dataset.
type Descriptor struct {
	Year     int    `json:"year" yaml:"year"`
	Category string `json:"category" yaml:"category"`
}

// Registration is one monthly file of a dataset.
type Registration struct {
	Key            string `json:"key"`
	SourceLocation string `json:"source"`
	Month          int    `json:"month"`
}

// Validate checks that the descriptor maps onto safe names.
func (d Descriptor) Validate() error {
	if d.Year < 1000 || d.Year > 9999 {
		return taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor,
			fmt.Sprintf("year %d is not a four digit year", d.Year))
	}
	if !categoryPattern.MatchString(d.Category) {
		return taxierrors.NewValidationError(taxierrors.CodeInvalidDescriptor,
			fmt.Sprintf("category %q must be lower case letters, digits or underscores", d.Category))
	}
	return nil
}

// TableName returns taxi_<year>.
func (d Descriptor) TableName() string {
	return TableName(d.Year)
}

// TableName returns the table a year's dataset is materialized into.
func TableName(year int) string {
	return fmt.Sprintf("taxi_%d", year)
}

// MonthKey returns the registration key of a month, e.g. green_Y2023M01.
func (d Descriptor) MonthKey(month int) string {
	return fmt.Sprintf("%s_Y%dM%02d", d.Category, d.Year, month)
}

// SourcePath returns the object path of a month, e.g.
// data/green/green_tripdata_2023-01.parquet.
func (d Descriptor) SourcePath(month int) string {
	return fmt.Sprintf("data/%s/%s_tripdata_%d-%02d.parquet", d.Category, d.Category, d.Year, month)
}

// Registrations returns months 1..n in order.
func (d Descriptor) Registrations(n int) []Registration {
	regs := make([]Registration, n)
	for i := range regs {
		m := i + 1
		regs[i] = Registration{
			Key:            d.MonthKey(m),
			SourceLocation: d.SourcePath(m),
			Month:          m,
		}
	}
	return regs
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%d", d.Category, d.Year)
}
