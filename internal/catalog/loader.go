package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const listSeparator = ";"

var requiredColumns = []string{"bucket", "line", "route", "main_name", "main_dose"}

var drugColumns = []string{
	"name", "moiety", "dose", "interval", "route",
	"age_adj", "weight_adj", "child_pugh_adj",
	"gfr_below", "plt_below", "wbc_below", "sat_below", "sodium_below", "sodium_above",
	"avoid", "contraindications",
}

func knownColumns() map[string]bool {
	known := map[string]bool{"bucket": true, "line": true, "route": true, "contraindications": true}
	for _, prefix := range []string{"main_", "alt_"} {
		for _, col := range drugColumns {
			known[prefix+col] = true
		}
	}
	return known
}

// LoadFile reads a catalog from a CSV file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open protocol catalog: %w", err)
	}
	defer f.Close()

	c, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load protocol catalog %s: %w", path, err)
	}
	return c, nil
}

// Load parses the CSV rule table. Any malformed cell fails the whole load.
func Load(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty catalog source")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	known := knownColumns()
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if !known[h] {
			return nil, fmt.Errorf("unknown column %q", h)
		}
		if _, dup := index[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		index[h] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var rows []Row
	for lineNo := 2; ; lineNo++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		row, err := parseRow(record{index: index, values: rec})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("catalog has no rows")
	}

	return New(rows)
}

type record struct {
	index  map[string]int
	values []string
}

func (r record) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func (r record) intValue(col string) (int, error) {
	v := r.get(col)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("column %s: %q is not an integer", col, v)
	}
	return n, nil
}

func (r record) floatValue(col string) (float64, error) {
	v := r.get(col)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %q is not a number", col, v)
	}
	if f < 0 {
		return 0, fmt.Errorf("column %s: negative threshold %v", col, f)
	}
	return f, nil
}

func (r record) list(col string) []string {
	v := r.get(col)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, listSeparator) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseRow(r record) (Row, error) {
	bucket, err := r.intValue("bucket")
	if err != nil {
		return Row{}, err
	}
	line, err := r.intValue("line")
	if err != nil {
		return Row{}, err
	}

	main, err := parseDrug(r, "main_")
	if err != nil {
		return Row{}, err
	}
	if main.Name == "" {
		return Row{}, errors.New("main_name is empty")
	}

	row := Row{
		Key:               Key{Bucket: bucket, Line: line, Route: r.get("route")},
		Main:              main,
		Contraindications: r.list("contraindications"),
	}

	alt, err := parseDrug(r, "alt_")
	if err != nil {
		return Row{}, err
	}
	if alt.Name != "" {
		row.Alternate = &alt
	}
	return row, nil
}

func parseDrug(r record, prefix string) (DrugRule, error) {
	d := DrugRule{
		Name:                r.get(prefix + "name"),
		ActiveMoiety:        r.get(prefix + "moiety"),
		Dose:                r.get(prefix + "dose"),
		Interval:            r.get(prefix + "interval"),
		Route:               r.get(prefix + "route"),
		AgeAdjustment:       r.get(prefix + "age_adj"),
		WeightAdjustment:    r.get(prefix + "weight_adj"),
		ChildPughAdjustment: r.get(prefix + "child_pugh_adj"),
		Avoid:               r.list(prefix + "avoid"),
		Contraindications:   r.list(prefix + "contraindications"),
	}
	if d.Name != "" && d.Dose == "" {
		return DrugRule{}, fmt.Errorf("%sdose is required for %s", prefix, d.Name)
	}

	fields := []struct {
		col string
		dst *float64
	}{
		{"gfr_below", &d.Thresholds.GFRBelow},
		{"plt_below", &d.Thresholds.PLTBelow},
		{"wbc_below", &d.Thresholds.WBCBelow},
		{"sat_below", &d.Thresholds.SATBelow},
		{"sodium_below", &d.Thresholds.SodiumBelow},
		{"sodium_above", &d.Thresholds.SodiumAbove},
	}
	for _, f := range fields {
		v, err := r.floatValue(prefix + f.col)
		if err != nil {
			return DrugRule{}, err
		}
		*f.dst = v
	}
	return d, nil
}
