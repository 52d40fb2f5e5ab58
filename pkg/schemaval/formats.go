package schemaval

import (
	"encoding/json"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/parcelworks/canopy/pkg/cidlink"
)

// Custom formats used by property schemas. Registered process-wide; the
// "uri" registration intentionally narrows the built-in format to
// http/https, which is all the property data model permits.
func init() {
	jsonschema.Formats["currency"] = isCurrency
	jsonschema.Formats["date"] = isStrictDate
	jsonschema.Formats["uri"] = isHTTPURI
	jsonschema.Formats["ipfs_uri"] = isIPFSURI
	jsonschema.Formats["rate_percent"] = isRatePercent
	jsonschema.Formats["cid"] = isCID
}

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	rateRe = regexp.MustCompile(`^\d+\.\d{3}$`)
)

// isCurrency accepts positive finite numbers with at most two decimal
// digits. Non-number values pass; the type keyword owns that check.
func isCurrency(v any) bool {
	var literal string
	switch n := v.(type) {
	case json.Number:
		literal = n.String()
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return false
		}
		literal = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		literal = strconv.Itoa(n)
	case int64:
		literal = strconv.FormatInt(n, 10)
	default:
		return true
	}

	f, err := strconv.ParseFloat(literal, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return false
	}
	if strings.ContainsAny(literal, "eE") {
		return false
	}
	if dot := strings.IndexByte(literal, '.'); dot >= 0 {
		return len(literal)-dot-1 <= 2
	}
	return true
}

// isStrictDate accepts YYYY-MM-DD calendar dates only.
func isStrictDate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	if !dateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// isHTTPURI accepts absolute http/https URLs with a host.
func isHTTPURI(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// isIPFSURI accepts ipfs://<id> where id is a v1 raw-codec identifier.
func isIPFSURI(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	rest, found := strings.CutPrefix(s, "ipfs://")
	if !found {
		return false
	}
	_, err := cidlink.DecodeExpectV1Raw(rest)
	return err == nil
}

// isRatePercent accepts non-negative decimal strings with exactly three
// decimal digits, e.g. "7.125".
func isRatePercent(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	return rateRe.MatchString(s)
}

// isCID accepts any decodable content identifier, either version.
func isCID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	_, err := cid.Decode(s)
	return err == nil
}
