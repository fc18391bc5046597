// Package catalog holds the immutable protocol rule table the matcher draws
// regimens from. It is built once at startup and shared read-only.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultRoute is used when a caller does not ask for a specific route.
const DefaultRoute = "PO"

// Pain buckets a VAS score is folded into before lookup.
const (
	BucketMild     = 3
	BucketModerate = 6
	BucketSevere   = 10
)

// Bucket maps a VAS score (0-10) to its catalog pain bucket.
func Bucket(vas int) int {
	switch {
	case vas <= 3:
		return BucketMild
	case vas <= 6:
		return BucketModerate
	default:
		return BucketSevere
	}
}

// Thresholds exclude a drug when the snapshot value is below (or for
// SodiumAbove, above) the configured number. Zero disables a check.
type Thresholds struct {
	GFRBelow    float64
	PLTBelow    float64
	WBCBelow    float64
	SATBelow    float64
	SodiumBelow float64
	SodiumAbove float64
}

// DrugRule is one drug slot of a catalog row.
type DrugRule struct {
	Name                string
	ActiveMoiety        string
	Dose                string
	Interval            string
	Route               string
	AgeAdjustment       string
	WeightAdjustment    string
	ChildPughAdjustment string
	Thresholds          Thresholds
	// Avoid lists sensitivities that exclude the drug, matched case-insensitively.
	Avoid             []string
	Contraindications []string
}

func (d *DrugRule) IsZero() bool {
	return d == nil || d.Name == ""
}

type Key struct {
	Bucket int
	Line   int
	Route  string
}

func (k Key) String() string {
	return fmt.Sprintf("bucket=%d line=%d route=%s", k.Bucket, k.Line, k.Route)
}

// Row binds a key to its main drug and optional alternate.
type Row struct {
	Key       Key
	Main      DrugRule
	Alternate *DrugRule
	// Contraindications apply to both drugs of the row.
	Contraindications []string
}

// Catalog is safe for concurrent use; it is never mutated after New.
type Catalog struct {
	rows    map[Key]Row
	maxLine int
}

// New builds a catalog from rows, rejecting duplicate keys and rows without a
// main drug.
func New(rows []Row) (*Catalog, error) {
	c := &Catalog{rows: make(map[Key]Row, len(rows))}
	for i, r := range rows {
		r.Key.Route = normalizeRoute(r.Key.Route)
		if r.Key.Line < 1 {
			return nil, fmt.Errorf("row %d: line must be >= 1, got %d", i+1, r.Key.Line)
		}
		if r.Key.Bucket != BucketMild && r.Key.Bucket != BucketModerate && r.Key.Bucket != BucketSevere {
			return nil, fmt.Errorf("row %d: unknown pain bucket %d", i+1, r.Key.Bucket)
		}
		if r.Main.IsZero() {
			return nil, fmt.Errorf("row %d (%s): main drug is required", i+1, r.Key)
		}
		if _, dup := c.rows[r.Key]; dup {
			return nil, fmt.Errorf("row %d: duplicate key %s", i+1, r.Key)
		}
		if r.Alternate != nil && r.Alternate.IsZero() {
			r.Alternate = nil
		}
		c.rows[r.Key] = copyRow(r)
		if r.Key.Line > c.maxLine {
			c.maxLine = r.Key.Line
		}
	}
	return c, nil
}

// Lookup returns a copy of the row for the key.
func (c *Catalog) Lookup(bucket, line int, route string) (Row, bool) {
	r, ok := c.rows[Key{Bucket: bucket, Line: line, Route: normalizeRoute(route)}]
	if !ok {
		return Row{}, false
	}
	return copyRow(r), true
}

// MaxLine is the highest regimen line present in any row.
func (c *Catalog) MaxLine() int { return c.maxLine }

func (c *Catalog) Len() int { return len(c.rows) }

// Rows returns every row ordered by bucket, line and route.
func (c *Catalog) Rows() []Row {
	out := make([]Row, 0, len(c.rows))
	for _, r := range c.rows {
		out = append(out, copyRow(r))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Route < b.Route
	})
	return out
}

func normalizeRoute(route string) string {
	route = strings.ToUpper(strings.TrimSpace(route))
	if route == "" {
		return DefaultRoute
	}
	return route
}

func copyDrug(d DrugRule) DrugRule {
	d.Avoid = append([]string(nil), d.Avoid...)
	d.Contraindications = append([]string(nil), d.Contraindications...)
	return d
}

func copyRow(r Row) Row {
	r.Main = copyDrug(r.Main)
	if r.Alternate != nil {
		alt := copyDrug(*r.Alternate)
		r.Alternate = &alt
	}
	r.Contraindications = append([]string(nil), r.Contraindications...)
	return r
}
