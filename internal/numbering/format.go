package numbering

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// DatePartLayout renders the calendar day as YYMMDD.
const DatePartLayout = "060102"

// Candidate is one proposed document number. It is never persisted itself.
type Candidate struct {
	Prefix   string
	DatePart string
	Sequence int
}

// String renders the candidate as {prefix}-{YYMMDD}-{seq}, with the
// sequence zero-padded to at least two digits.
func (c Candidate) String() string {
	return fmt.Sprintf("%s-%s-%02d", c.Prefix, c.DatePart, c.Sequence)
}

// Slug is the lowercased number.
func (c Candidate) Slug() string {
	return slug.Make(c.String())
}

// Format is a pure renderer: no I/O, no clock.
func Format(prefix string, date time.Time, seq int) (string, error) {
	candidate, err := NewCandidate(prefix, date, seq)
	if err != nil {
		return "", err
	}
	return candidate.String(), nil
}

func NewCandidate(prefix string, date time.Time, seq int) (Candidate, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return Candidate{}, ErrInvalidPrefix
	}
	if seq <= 0 {
		return Candidate{}, fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}
	return Candidate{
		Prefix:   prefix,
		DatePart: date.Format(DatePartLayout),
		Sequence: seq,
	}, nil
}
