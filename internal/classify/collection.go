package classify

import (
	"strconv"

	"github.com/tidwall/gjson"
)

// envelopeFields are the generic object fields a list response may be
// wrapped in, checked in order before the resource-specific alias.
var envelopeFields = []string{"collection", "content", "data", "items", "results"}

// Resource describes how a backend resource appears in list responses.
type Resource struct {
	Alias   string // resource-specific envelope field
	IDField string
}

var (
	ProductResource = Resource{Alias: "products", IDField: "productId"}
	UserResource    = Resource{Alias: "users", IDField: "userId"}
	OrderResource   = Resource{Alias: "orders", IDField: "orderId"}
	CartResource    = Resource{Alias: "carts", IDField: "cartId"}
)

// ExtractCollection returns the list carried by body: either a bare JSON
// array or an object exposing the array under one of the envelope fields or
// the given aliases. Any other shape yields an empty result.
func ExtractCollection(body []byte, aliases ...string) []gjson.Result {
	if !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array()
	}
	if !root.IsObject() {
		return nil
	}
	for _, field := range envelopeFields {
		if v := root.Get(field); v.IsArray() {
			return v.Array()
		}
	}
	for _, field := range aliases {
		if v := root.Get(field); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

// CollectionIDs returns the distinct positive identifiers of every item in
// the collection, in response order.
func CollectionIDs(body []byte, res Resource) []int {
	return NestedIDs(body, res, res.IDField)
}

// NestedIDs returns, for each collection item, the first positive integer
// found at one of paths (gjson syntax, e.g. "cart.cartId"). Duplicates are
// dropped.
func NestedIDs(body []byte, res Resource, paths ...string) []int {
	items := ExtractCollection(body, res.Alias)
	if len(items) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(items))
	ids := make([]int, 0, len(items))
	for _, item := range items {
		for _, path := range paths {
			id, ok := positiveInt(item.Get(path))
			if !ok {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
			break
		}
	}
	return ids
}

// positiveInt accepts JSON numbers and numeric strings greater than zero.
func positiveInt(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		if r.Num != float64(int64(r.Num)) {
			return 0, false
		}
		id := int(r.Int())
		return id, id > 0
	case gjson.String:
		id, err := strconv.Atoi(r.Str)
		if err != nil {
			return 0, false
		}
		return id, id > 0
	default:
		return 0, false
	}
}
