// Package gid canonicalizes commerce platform resource identifiers.
//
// The platform hands out the same resource in two shapes: a bare numeric id
// ("123") and a globally-qualified reference ("gid://shopify/Product/123").
// Everything that stores or compares product and collection ids works on the
// bare form returned by Normalize.
package gid

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is a resource type name that appears in a qualified reference.
type Kind string

const (
	KindProduct        Kind = "Product"
	KindCollection     Kind = "Collection"
	KindProductVariant Kind = "ProductVariant"
)

// DefaultNamespace is the namespace used by Format.
const DefaultNamespace = "shopify"

// qualifiedRe matches gid://<namespace>/<Type>/<numeric-id>, optionally
// followed by a query string. Only the known resource types are unwrapped.
var qualifiedRe = regexp.MustCompile(`^gid://[^/\s]+/(Product|Collection|ProductVariant|Variant)/(\d+)(?:\?.*)?$`)

// Normalize returns the bare numeric id for a qualified Product, Collection
// or variant reference, the trimmed input for anything else, and "" for
// empty input. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if m := qualifiedRe.FindStringSubmatch(s); m != nil {
		return m[2]
	}
	return s
}

// NormalizeAny is Normalize for loosely typed input such as decoded JSON
// payloads. nil yields "".
func NormalizeAny(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return Normalize(v)
	case *string:
		if v == nil {
			return ""
		}
		return Normalize(*v)
	case json.Number:
		return Normalize(v.String())
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		// JSON numbers decode to float64; ids are integral.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return Normalize(strconv.FormatFloat(v, 'f', -1, 64))
	case fmt.Stringer:
		return Normalize(v.String())
	default:
		return Normalize(fmt.Sprint(v))
	}
}

// Format builds a qualified reference for a bare id. Already qualified input
// is normalized first, so Format is safe to call on either shape.
func Format(kind Kind, id string) string {
	bare := Normalize(id)
	if bare == "" {
		return ""
	}
	return fmt.Sprintf("gid://%s/%s/%s", DefaultNamespace, kind, bare)
}
