package query

import (
	"strings"
	"time"
)

const (
	SortAsc  = "ASC"
	SortDesc = "DESC"
)

// Options carries pagination and sorting for a translated query.
type Options struct {
	Page      int
	Limit     int
	Offset    int
	SortField string
	SortDir   string
}

// SafeQueryLimits bounds pagination so no request can ask for an
// unbounded result set.
type SafeQueryLimits struct {
	MaxLimit     int
	DefaultLimit int
	MaxOffset    int
	Timeout      time.Duration
}

func DefaultSafeQueryLimits() SafeQueryLimits {
	return SafeQueryLimits{
		MaxLimit:     100,
		DefaultLimit: 20,
		MaxOffset:    10000,
		Timeout:      30 * time.Second,
	}
}

// Validate reports option values that cannot be silently corrected.
func (l SafeQueryLimits) Validate(opts *Options) ValidationErrors {
	var errs ValidationErrors
	if opts.Offset < 0 {
		errs = append(errs, &ValidationError{Field: "offset", Message: "Offset cannot be negative", Code: CodeNegativeOffset})
	}
	if opts.Page < 0 {
		errs = append(errs, &ValidationError{Field: "page", Message: "Page cannot be negative", Code: CodeNegativePage})
	}
	if opts.SortDir != "" {
		dir := strings.ToUpper(opts.SortDir)
		if dir != SortAsc && dir != SortDesc {
			errs = append(errs, &ValidationError{Field: "sort_dir", Message: "Sort direction must be ASC or DESC", Code: CodeInvalidSortDirection})
		}
	}
	return errs
}

// Apply clamps limit and offset into range, derives the offset from a page
// number when one is given, and normalizes the sort direction.
func (l SafeQueryLimits) Apply(opts *Options) {
	if opts.Limit <= 0 {
		opts.Limit = l.DefaultLimit
	}
	if opts.Limit > l.MaxLimit {
		opts.Limit = l.MaxLimit
	}
	if opts.Page > 0 {
		opts.Offset = (opts.Page - 1) * opts.Limit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Offset > l.MaxOffset {
		opts.Offset = l.MaxOffset
	}
	opts.SortDir = strings.ToUpper(opts.SortDir)
	if opts.SortDir != SortAsc {
		opts.SortDir = SortDesc
	}
}
