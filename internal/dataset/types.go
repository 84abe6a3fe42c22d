package dataset

import (
	"math"
	"strconv"
	"strings"
)

// Type names follow the conventions of dataframe libraries so card text
// stays comparable with profiles produced elsewhere.
const (
	TypeInt    = "int64"
	TypeFloat  = "float64"
	TypeBool   = "bool"
	TypeObject = "object"
)

// nullTokens are the cell values treated as missing.
var nullTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

var (
	trueTokens  = map[string]struct{}{"True": {}, "TRUE": {}, "true": {}}
	falseTokens = map[string]struct{}{"False": {}, "FALSE": {}, "false": {}}
)

// IsNull reports whether a raw cell is a missing value.
func IsNull(s string) bool {
	_, ok := nullTokens[s]
	return ok
}

// NewColumn infers the column type from raw cells and renders every present
// value in that type's canonical string form.
func NewColumn(name string, raw []string) Column {
	c := Column{
		Name:    name,
		Values:  make([]string, len(raw)),
		Missing: make([]bool, len(raw)),
	}

	present, missing := 0, 0
	allInt, allFloat, allBool := true, true, true
	for i, s := range raw {
		if IsNull(s) {
			c.Missing[i] = true
			missing++
			continue
		}
		present++
		if _, ok := parseInt(s); !ok {
			allInt = false
		}
		if _, ok := parseFloat(s); !ok {
			allFloat = false
		}
		if _, ok := parseBool(s); !ok {
			allBool = false
		}
	}

	switch {
	case len(raw) == 0:
		c.DType = TypeObject
	case present == 0:
		c.DType = TypeFloat
	case allInt && missing == 0:
		c.DType = TypeInt
	case allFloat:
		c.DType = TypeFloat
	case allBool && missing == 0:
		c.DType = TypeBool
	default:
		c.DType = TypeObject
	}

	for i, s := range raw {
		if c.Missing[i] {
			continue
		}
		c.Values[i] = render(c.DType, s)
	}
	return c
}

func render(dtype, s string) string {
	switch dtype {
	case TypeInt:
		v, _ := parseInt(s)
		return strconv.FormatInt(v, 10)
	case TypeFloat:
		v, _ := parseFloat(s)
		return FormatFloat(v)
	case TypeBool:
		if v, _ := parseBool(s); v {
			return "True"
		}
		return "False"
	default:
		return s
	}
}

// IsNumeric reports whether dtype names an integer or floating point type.
func IsNumeric(dtype string) bool {
	return strings.HasPrefix(dtype, "int") || strings.HasPrefix(dtype, "float")
}

func parseInt(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v, err == nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "xX_") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func parseBool(s string) (bool, bool) {
	if _, ok := trueTokens[s]; ok {
		return true, true
	}
	if _, ok := falseTokens[s]; ok {
		return false, true
	}
	return false, false
}

// FormatFloat renders f in shortest round-trip form. Integral values keep a
// trailing ".0" and very large or small magnitudes switch to exponent form
// with a two-digit exponent ("1e+16", "1.5e-05").
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	mant, expStr, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	exp, _ := strconv.Atoi(expStr)
	if exp < -4 || exp >= 16 {
		sign := "+"
		if exp < 0 {
			sign = "-"
			exp = -exp
		}
		e := strconv.Itoa(exp)
		if len(e) < 2 {
			e = "0" + e
		}
		return mant + "e" + sign + e
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
