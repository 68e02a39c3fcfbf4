package domain

import "fmt"

// ParseMode selects how readers react to a malformed record.
type ParseMode string

const (
	// ParseStrict aborts the whole read on the first malformed record.
	ParseStrict ParseMode = "strict"
	// ParseLenient skips malformed records and reports them through a callback.
	ParseLenient ParseMode = "lenient"
)

// ParseParseMode converts a configuration string into a ParseMode.
func ParseParseMode(s string) (ParseMode, error) {
	switch ParseMode(s) {
	case ParseStrict, ParseLenient:
		return ParseMode(s), nil
	default:
		return "", fmt.Errorf("unknown parse mode %q (want strict or lenient)", s)
	}
}

// ReadOptions controls validation at the reader boundary.
type ReadOptions struct {
	Mode ParseMode

	// CheckRange rejects coordinates outside the WGS-84 ranges.
	CheckRange bool

	// OnSkip is called for every record dropped in lenient mode. May be nil.
	OnSkip func(*RecordError)
}

// Validate applies the boundary checks to a parsed reading.
func (o ReadOptions) Validate(r Reading) error {
	if err := CheckFinite(r); err != nil {
		return err
	}
	if o.CheckRange {
		return CheckRange(r)
	}
	return nil
}

// Reject decides the fate of a malformed record. It returns the error to
// abort with in strict mode, or nil after reporting the skip in lenient mode.
func (o ReadOptions) Reject(recErr *RecordError) error {
	if o.Mode != ParseLenient {
		return recErr
	}
	if o.OnSkip != nil {
		o.OnSkip(recErr)
	}
	return nil
}
