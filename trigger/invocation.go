package trigger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"intellikeeper/store"
)

// Invocation is one trigger to run for one tag event.
type Invocation struct {
	ID        string
	Trigger   *store.Trigger
	Tag       *store.Tag
	Device    *store.Device
	TagPath   string
	Kind      string
	EventCode int
	Scope     store.Scope
}

// Vars returns the placeholder values available to trigger templates.
func (inv Invocation) Vars() map[string]string {
	v := map[string]string{
		"tag_path":   inv.TagPath,
		"event_type": strconv.Itoa(inv.EventCode),
	}
	if inv.Tag != nil {
		v["tag_name"] = inv.Tag.Name
		v["tag_tid"] = strconv.Itoa(inv.Tag.TID)
	}
	if inv.Device != nil {
		v["device_id"] = inv.Device.ExternalID
		v["device_name"] = inv.Device.Name
	}
	return v
}

// Render replaces every "{% name %}" token in s with vars[name]. Unknown
// tokens are left as they are.
func Render(s string, vars map[string]string) string {
	if !strings.Contains(s, "{%") {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, val := range vars {
		pairs = append(pairs, "{% "+name+" %}", val)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// parseMapping decodes a JSON object into string values. Anything other than
// an object yields ok=false. Non-string values keep their JSON text.
func parseMapping(raw string) (map[string]string, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	// Anything after the object, even another valid value, rejects the mapping.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case json.Number:
			out[k] = tv.String()
		case nil:
			out[k] = ""
		case bool:
			out[k] = strconv.FormatBool(tv)
		default:
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(tv); err != nil {
				out[k] = fmt.Sprint(tv)
				continue
			}
			out[k] = strings.TrimSpace(buf.String())
		}
	}
	return out, true
}

func renderAll(m map[string]string, vars map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Render(v, vars)
	}
	return out
}
