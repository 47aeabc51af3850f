package matching

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Key precedence for every DTO lives here. Call sites never read collaborator
// fields directly.
var (
	resourceIDKeys    = []string{"resource_id", "id"}
	requestIDKeys     = []string{"request_id", "id"}
	statusKeys        = []string{"status", "state"}
	imageKeys         = []string{"image_url", "image_path"}
	resourceNameKeys  = []string{"item_name", "title"}
	requestNameKeys   = []string{"item_name", "wanted_item", "title"}
	requestAmountKeys = []string{"amount", "desired_amount"}
	listKeys          = []string{"resources", "requests", "history", "matches", "items", "data"}
)

// NormalizeState maps a raw status onto the local vocabulary:
// accepted and completed become matched, rejected becomes declined, and
// anything unrecognised (including empty) becomes unknown.
func NormalizeState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "proposed":
		return StateProposed
	case "matched", "accepted", "completed":
		return StateMatched
	case "declined", "rejected":
		return StateDeclined
	}
	return StateUnknown
}

// IsMatchedFamily reports whether raw denotes a final, settled match.
func IsMatchedFamily(raw string) bool {
	return NormalizeState(raw) == StateMatched
}

// ParseMatchRecord shapes a match response. A list is unwrapped to its first
// element and a {"data": {...}} envelope to its payload. Empty bodies, null
// and empty lists mean "no match" and return nil without error.
func ParseMatchRecord(body []byte, publicBase string) (*MatchRecord, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformed
	}
	root := unwrap(gjson.ParseBytes(body))
	if !root.Exists() || root.Type == gjson.Null {
		return nil, nil
	}
	if !root.IsObject() {
		return nil, ErrMalformed
	}
	rec := recordFrom(root, publicBase)
	return &rec, nil
}

func unwrap(r gjson.Result) gjson.Result {
	for r.IsArray() {
		items := r.Array()
		if len(items) == 0 {
			return gjson.Result{}
		}
		r = items[0]
	}
	if r.IsObject() && !r.Get("status").Exists() && !r.Get("state").Exists() {
		if data := r.Get("data"); data.IsObject() || data.IsArray() {
			return unwrap(data)
		}
	}
	return r
}

func recordFrom(r gjson.Result, publicBase string) MatchRecord {
	rec := MatchRecord{
		Status:   strings.ToLower(firstString(r, statusKeys...)),
		Resource: ParseResourceBrief(r.Get("resource"), publicBase),
		Request:  ParseRequestBrief(r.Get("request"), publicBase),
	}
	if rec.Resource.ID == "" {
		rec.Resource.ID = firstString(r, "resource_id")
	}
	if rec.Request.ID == "" {
		rec.Request.ID = firstString(r, "request_id")
	}
	return rec
}

func ParseResourceBrief(r gjson.Result, publicBase string) ResourceBrief {
	if !r.IsObject() {
		return ResourceBrief{}
	}
	return ResourceBrief{
		ID:           firstString(r, resourceIDKeys...),
		Title:        firstString(r, "title"),
		ItemName:     firstString(r, resourceNameKeys...),
		Description:  firstString(r, "description"),
		Amount:       firstString(r, "amount"),
		Value:        firstInt(r, "value"),
		Username:     firstString(r, "username"),
		ItemType:     firstString(r, "item_type", "detected_item"),
		MaterialType: firstString(r, "material_type"),
		ImageURL:     PublicURL(publicBase, firstString(r, imageKeys...)),
		Status:       firstString(r, statusKeys...),
	}
}

func ParseRequestBrief(r gjson.Result, publicBase string) RequestBrief {
	if !r.IsObject() {
		return RequestBrief{}
	}
	return RequestBrief{
		ID:                firstString(r, requestIDKeys...),
		Title:             firstString(r, "title"),
		ItemName:          firstString(r, requestNameKeys...),
		Amount:            firstString(r, requestAmountKeys...),
		Value:             firstInt(r, "value"),
		Description:       firstString(r, "description"),
		Username:          firstString(r, "username"),
		ItemType:          firstString(r, "item_type"),
		MaterialType:      firstString(r, "material_type"),
		ImageURL:          PublicURL(publicBase, firstString(r, imageKeys...)),
		Status:            firstString(r, statusKeys...),
		IsAutoWritten:     r.Get("is_auto_written").Bool(),
		MatchedResourceID: firstString(r, "matched_resource_id"),
	}
}

// ParseList returns the items of a listing that is either a bare array or an
// object carrying the array under one of the known keys. Items are returned
// unshaped so a bad item only affects itself.
func ParseList(body []byte) ([]gjson.Result, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(body)
	switch {
	case root.Type == gjson.Null:
		return nil, nil
	case root.IsArray():
		return root.Array(), nil
	case root.IsObject():
		for _, k := range listKeys {
			if v := root.Get(k); v.IsArray() {
				return v.Array(), nil
			}
		}
		return nil, nil
	}
	return nil, ErrMalformed
}

// ParseAmount reads a collaborator amount such as "2.5" or "3". It returns
// nil when the text is not a number.
func ParseAmount(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

// PublicURL resolves a stored image path against the public base URL.
// Absolute URLs pass through untouched.
func PublicURL(base, path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base = strings.TrimRight(base, "/")
	return base + "/" + strings.TrimLeft(path, "/")
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		v := r.Get(k)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

// firstInt accepts JSON numbers and numeric strings; fractions are truncated.
func firstInt(r gjson.Result, keys ...string) *int64 {
	for _, k := range keys {
		v := r.Get(k)
		var n int64
		switch v.Type {
		case gjson.Number:
			n = int64(v.Float())
		case gjson.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
			if err != nil {
				continue
			}
			n = int64(f)
		default:
			continue
		}
		return &n
	}
	return nil
}
