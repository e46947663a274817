// Package cluster compares two collections of label sets, typically the
// clusters produced by two different groupings of the same samples.
package cluster

import (
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
	"github.com/nlpodyssey/gopickle/types"
)

// Set is an unordered collection of normalized labels.
type Set map[interface{}]struct{}

// NewSet builds a Set from labels. It panics on labels that can't be
// members of a set, like lists or maps; use it for literals.
func NewSet(labels ...interface{}) Set {
	set, err := setOf(labels)
	if err != nil {
		panic(err)
	}
	return set
}

func setOf(labels []interface{}) (Set, error) {
	set := make(Set, len(labels))
	for _, label := range labels {
		if err := set.Add(label); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Add normalizes label and inserts it.
func (s Set) Add(label interface{}) error {
	key, err := normalize(label)
	if err != nil {
		return err
	}
	s[key] = struct{}{}
	return nil
}

// Len returns the number of labels in the set.
func (s Set) Len() int {
	return len(s)
}

// Has reports whether label is a member of the set.
func (s Set) Has(label interface{}) bool {
	key, err := normalize(label)
	if err != nil {
		return false
	}
	_, ok := s[key]
	return ok
}

// Equal reports whether both sets hold the same labels.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for key := range s {
		if _, ok := other[key]; !ok {
			return false
		}
	}
	return true
}

// Intersection returns the labels present in both sets.
func (s Set) Intersection(other Set) Set {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	inter := make(Set)
	for key := range small {
		if _, ok := large[key]; ok {
			inter[key] = struct{}{}
		}
	}
	return inter
}

// labels that aren't plain Go scalars get their own comparable types, so a
// bytes label never equals the string with the same contents
type (
	noneLabel  struct{}
	bigLabel   string
	bytesLabel string
	// tupleLabel compares by key, built from the types and values of its
	// normalized items; text is only for display.
	tupleLabel struct {
		key  string
		text string
	}
)

func (noneLabel) String() string    { return "None" }
func (l bigLabel) String() string   { return string(l) }
func (l bytesLabel) String() string { return "b" + quote(string(l)) }
func (l tupleLabel) String() string { return l.text }

// quote renders s the way Python's repr does: single quoted unless s holds
// a single quote and no double quote.
func quote(s string) string {
	quoted := strconv.Quote(s)
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		return quoted
	}
	inner := quoted[1 : len(quoted)-1]
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, "'", `\'`)
	return "'" + inner + "'"
}

// repr renders a normalized label.
func repr(label interface{}) string {
	switch v := label.(type) {
	case string:
		return quote(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprint(label)
}

// normalize maps a decoded label onto a comparable key. Numbers that are
// equal in Python (True, 1 and 1.0) share a key.
func normalize(label interface{}) (interface{}, error) {
	switch v := label.(type) {
	case nil:
		return noneLabel{}, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return normalizeUnsigned(uint64(v)), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return normalizeUnsigned(v), nil
	case *big.Int:
		if v.IsInt64() {
			return v.Int64(), nil
		}
		return bigLabel(v.String()), nil
	case float32:
		return normalizeFloat(float64(v)), nil
	case float64:
		return normalizeFloat(v), nil
	case string:
		return v, nil
	case []byte:
		return bytesLabel(v), nil
	case noneLabel, bigLabel, bytesLabel, tupleLabel:
		return v, nil
	case *types.Tuple:
		return normalizeTuple(*v)
	case types.Tuple:
		return normalizeTuple(v)
	}
	return nil, errors.Errorf("unhashable label of type %T", label)
}

func normalizeUnsigned(v uint64) interface{} {
	if v > math.MaxInt64 {
		return bigLabel(strconv.FormatUint(v, 10))
	}
	return int64(v)
}

func normalizeFloat(v float64) interface{} {
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return int64(v)
	}
	return v
}

func normalizeTuple(items []interface{}) (interface{}, error) {
	keys := make([]string, 0, len(items))
	texts := make([]string, 0, len(items))
	for _, item := range items {
		key, err := normalize(item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%T(%#v)", key, key))
		texts = append(texts, repr(key))
	}
	text := "(" + strings.Join(texts, ", ") + ")"
	if len(items) == 1 {
		text = "(" + texts[0] + ",)"
	}
	return tupleLabel{
		key:  "(" + strings.Join(keys, ", ") + ")",
		text: text,
	}, nil
}

// Report holds the outcome of comparing two collections.
type Report struct {
	ExactMatches   int
	PartialMatches int
	// Matches holds the intersection of every partially matching pair, in
	// comparison order.
	Matches []Set
	Left    int
	Right   int
}

// Compare checks every set of l1 against every set of l2. A pair matches
// partially when their intersection is the whole of either side, which
// includes exact matches. Duplicate sets are compared, and counted, on
// their own.
func Compare(l1, l2 []Set) *Report {
	report := &Report{
		Matches: []Set{},
		Left:    len(l1),
		Right:   len(l2),
	}
	for _, i := range l1 {
		for _, j := range l2 {
			inter := i.Intersection(j)
			if i.Equal(j) {
				report.ExactMatches++
			}
			if inter.Len() == i.Len() || inter.Len() == j.Len() {
				report.PartialMatches++
				report.Matches = append(report.Matches, inter)
			}
		}
	}
	return report
}

// Ratios returns the partial matches relative to the size of each side. A
// side with no sets yields 0.
func (r *Report) Ratios() (float64, float64) {
	return ratio(r.PartialMatches, r.Left), ratio(r.PartialMatches, r.Right)
}

func ratio(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// WriteSummary prints the match counts.
func (r *Report) WriteSummary(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Found %d exact matches\n\nMatched %d/%d clusters\nMatched %d/%d clusters\n",
		r.ExactMatches, r.PartialMatches, r.Left, r.PartialMatches, r.Right)
	return err
}

// WriteMatches prints one matched intersection per line.
func (r *Report) WriteMatches(w io.Writer) error {
	for _, match := range r.Matches {
		if _, err := fmt.Fprintln(w, match); err != nil {
			return err
		}
	}
	return nil
}

// String renders the set with its labels in Python notation, sorted by
// their text, like {'a', 1, 2}.
func (s Set) String() string {
	labels := make([]string, 0, len(s))
	for key := range s {
		labels = append(labels, repr(key))
	}
	sort.Strings(labels)
	return "{" + strings.Join(labels, ", ") + "}"
}
