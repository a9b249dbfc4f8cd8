package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"github.com/runningman84/zfs-monitor/pkg/models"
)

// poolAliases maps long zpool property names to the short names used
// for decoding
var poolAliases = map[string]string{
	"capacity":      "cap",
	"allocated":     "alloc",
	"autoreplace":   "replace",
	"autoexpand":    "expand",
	"listsnapshots": "listsnaps",
	"readonly":      "rdonly",
	"dedupratio":    "dedup",
	"pool_guid":     "guid",
}

// datasetAliases maps long zfs property names to the short names used
// for decoding
var datasetAliases = map[string]string{
	"available":                      "avail",
	"referenced":                     "refer",
	"compressratio":                  "ratio",
	"compression":                    "compress",
	"readonly":                       "rdonly",
	"reservation":                    "reserv",
	"volblocksize":                   "volblock",
	"recordsize":                     "recsize",
	"refreservation":                 "refreserv",
	"usedbysnapshots":                "usedsnap",
	"usedbydataset":                  "usedds",
	"usedbychildren":                 "usedchild",
	"usedbyrefreservation":           "usedrefreserv",
	"encryption":                     "crypt",
	"casesensitivity":                "case",
	"keyformat":                      "keysourceformat",
	"keylocation":                    "keysourcelocation",
	"org.opensolaris.caiman:install": "caimaninstall",
	"org.opensolaris.libbe:uuid":     "libbeuuid",
}

// props is a normalized property map with field error collection
type props struct {
	values map[string]string
	err    error
}

func newProps(raw map[string]string, aliases map[string]string) *props {
	p := &props{values: make(map[string]string, len(raw))}
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if short, ok := aliases[key]; ok {
			key = short
		}
		p.values[key] = strings.TrimSpace(v)
	}
	return p
}

func (p *props) fail(field, format string, args ...interface{}) {
	p.err = multierr.Append(p.err, &models.FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// lookup returns the value and whether it carries information. Missing
// keys and "-" carry none.
func (p *props) lookup(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok || v == "" || v == "-" {
		return "", false
	}
	return v, true
}

func (p *props) str(key, def string) string {
	if v, ok := p.values[key]; ok && v != "" {
		return v
	}
	return def
}

func (p *props) optStr(key string) string {
	v, _ := p.lookup(key)
	return v
}

func (p *props) size(key string) int64 {
	v, ok := p.lookup(key)
	if !ok {
		p.fail(key, "is required")
		return 0
	}
	n, err := ParseSize(v)
	if err != nil {
		p.fail(key, "%v", err)
	}
	return n
}

// optSize treats "none" like "-", as zfs prints it for unset quotas
func (p *props) optSize(key string) *int64 {
	v, ok := p.lookup(key)
	if !ok || strings.EqualFold(v, "none") {
		return nil
	}
	n, err := ParseSize(v)
	if err != nil {
		p.fail(key, "%v", err)
		return nil
	}
	return &n
}

func (p *props) integer(key string, def int64) int64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(v, "%"), 10, 64)
	if err != nil {
		p.fail(key, "invalid integer %q", v)
		return def
	}
	return n
}

func (p *props) optInteger(key string) *int64 {
	if _, ok := p.lookup(key); !ok {
		return nil
	}
	n := p.integer(key, 0)
	return &n
}

func (p *props) ratio(key string, def float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	f, err := ParseRatio(v)
	if err != nil {
		p.fail(key, "%v", err)
		return def
	}
	return f
}

func (p *props) boolean(key string) bool {
	b := p.optBool(key)
	return b != nil && *b
}

func (p *props) optBool(key string) *bool {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	b, err := ParseBool(v)
	if err != nil {
		p.fail(key, "%v", err)
		return nil
	}
	return &b
}

func (p *props) timestamp(key string) time.Time {
	v, ok := p.lookup(key)
	if !ok {
		p.fail(key, "is required")
		return time.Time{}
	}
	t, err := ParseTime(v)
	if err != nil {
		p.fail(key, "%v", err)
	}
	return t
}

func (p *props) optTimestamp(key string) *time.Time {
	v, ok := p.lookup(key)
	if !ok {
		return nil
	}
	t, err := ParseTime(v)
	if err != nil {
		p.fail(key, "%v", err)
		return nil
	}
	return &t
}

// enum decodes an optional enum property, falling back to def when the
// property is absent
func enum[T ~string](p *props, key string, values []T, def T) T {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	e, err := models.ParseEnum(key, v, values)
	if err != nil {
		p.fail(key, "%v", err)
		return def
	}
	return e
}

func optEnum[T ~string](p *props, key string, values []T) *T {
	if _, ok := p.lookup(key); !ok {
		return nil
	}
	var zero T
	e := enum(p, key, values, zero)
	if e == zero {
		return nil
	}
	return &e
}

// ParseSize parses a byte count as zfs prints it: exact integers with -p,
// otherwise human readable sizes with binary units such as "1.50T" or
// "512K".
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("size %q must not be negative", s)
		}
		return n, nil
	}

	// zfs units are binary; humanize reads a bare "K" as 1000
	unit := strings.TrimLeft(s, "0123456789.,")
	if len(unit) == 1 && !strings.EqualFold(unit, "b") {
		s += "i"
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", strings.TrimSuffix(s, "i"))
	}
	if n >= models.MaxBytes {
		return 0, fmt.Errorf("size %q exceeds %d bytes", s, uint64(math.MaxInt64))
	}
	return int64(n), nil
}

// ParseRatio parses a compression or dedup ratio such as "1.45x"
func ParseRatio(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "x"), 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid ratio %q", s)
	}
	return f, nil
}

// ParseBool parses the on/off and yes/no values zfs prints
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"Mon Jan _2 15:04 2006",
	"Mon Jan _2 15:04:05 2006",
	"2006-01-02 15:04:05",
}

// ParseTime parses a timestamp as unix seconds (zfs get -p), RFC 3339,
// or the ctime-like form zfs prints by default. Results are in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}
