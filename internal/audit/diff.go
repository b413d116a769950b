package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/text/unicode/norm"
)

// Change is a field whose canonical before and after forms differ.
type Change struct {
	Field  string
	Before *string
	After  *string
}

// Diff returns the changed fields in name order. nil and "" are different values.
func Diff(fields []Field) ([]Change, error) {
	sorted := append([]Field(nil), fields...)
	sortFields(sorted)

	var out []Change
	for _, f := range sorted {
		changed, err := differs(f.Before, f.After)
		if err != nil {
			return nil, fmt.Errorf("audit: field %s: %w", f.Name, err)
		}
		if !changed {
			continue
		}
		before, err := Canonical(f.Before)
		if err != nil {
			return nil, fmt.Errorf("audit: field %s: %w", f.Name, err)
		}
		after, err := Canonical(f.After)
		if err != nil {
			return nil, fmt.Errorf("audit: field %s: %w", f.Name, err)
		}
		out = append(out, Change{Field: f.Name, Before: before, After: after})
	}
	return out, nil
}

func differs(before, after any) (bool, error) {
	before, after = deref(before), deref(after)
	if isNil(before) || isNil(after) {
		return isNil(before) != isNil(after), nil
	}
	if numericDrift(before, after) {
		if bn, ok := asNumber(before); ok {
			if an, ok := asNumber(after); ok {
				return bn.Cmp(an) != 0, nil
			}
		}
	}
	b, err := Canonical(before)
	if err != nil {
		return false, err
	}
	a, err := Canonical(after)
	if err != nil {
		return false, err
	}
	return *b != *a, nil
}

// Canonical renders v in the stored form. nil stays nil.
func Canonical(v any) (*string, error) {
	v = deref(v)
	if isNil(v) {
		return nil, nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = norm.NFC.String(val)
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	case time.Time:
		s = val.UTC().Format(time.RFC3339Nano)
	case float32, float64:
		s = strconv.FormatFloat(cast.ToFloat64(val), 'f', -1, 64)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		str, err := cast.ToStringE(val)
		if err != nil {
			return nil, err
		}
		s = str
	case fmt.Stringer:
		s = norm.NFC.String(val.String())
	default:
		str, err := canonicalJSON(val)
		if err != nil {
			return nil, err
		}
		s = str
	}
	return &s, nil
}

// canonicalJSON serializes composite values. Slices are treated as unordered sets.
func canonicalJSON(v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := Canonical(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			if item == nil {
				items = append(items, "null")
				continue
			}
			items = append(items, *item)
		}
		sort.Strings(items)
		raw, err := json.Marshal(items)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	// encoding/json sorts map keys.
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return norm.NFC.String(string(raw)), nil
}

// numericDrift reports whether numeric equivalence applies: both sides are
// numbers, or exactly one side is a string. Two strings compare as text.
func numericDrift(before, after any) bool {
	_, bs := before.(string)
	_, as := after.(string)
	return !(bs && as)
}

var decimalText = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// asNumber converts v to an exact rational. Floats go through their shortest
// decimal form so 0.1 equals "0.1".
func asNumber(v any) (*big.Rat, bool) {
	switch val := v.(type) {
	case int, int8, int16, int32, int64:
		n, err := cast.ToInt64E(val)
		if err != nil {
			return nil, false
		}
		return new(big.Rat).SetInt64(n), true
	case uint, uint8, uint16, uint32, uint64:
		n, err := cast.ToUint64E(val)
		if err != nil {
			return nil, false
		}
		return new(big.Rat).SetUint64(n), true
	case float32:
		return ratFromText(strconv.FormatFloat(float64(val), 'g', -1, 32))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, false
		}
		return ratFromText(strconv.FormatFloat(val, 'g', -1, 64))
	case json.Number:
		return ratFromText(val.String())
	case string:
		return ratFromText(strings.TrimSpace(val))
	}
	return nil, false
}

func ratFromText(s string) (*big.Rat, bool) {
	if !decimalText.MatchString(s) {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func sortFields(fields []Field) {
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
}
