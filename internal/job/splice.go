package job

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"comfyguard/pkg/api"
)

// injector produces the value to write into a recognized node input field,
// or ok=false when the side-input carries nothing for it.
type injector func(in *api.JobInput, uploaded []string) (value any, ok bool)

var injectors = map[string]injector{
	"text": func(in *api.JobInput, _ []string) (any, bool) {
		return in.Prompt, in.Prompt != ""
	},
	"width": func(in *api.JobInput, _ []string) (any, bool) {
		return in.Width, in.Width > 0
	},
	"height": func(in *api.JobInput, _ []string) (any, bool) {
		return in.Height, in.Height > 0
	},
	"seed": func(in *api.JobInput, _ []string) (any, bool) {
		if in.Seed == nil {
			return nil, false
		}
		return *in.Seed, true
	},
	"image": func(in *api.JobInput, uploaded []string) (any, bool) {
		if len(uploaded) == 0 {
			return nil, false
		}
		return uploaded[0], true
	},
}

// splice overwrites recognized input fields on every workflow node with the
// job's side-input values. Nodes without an inputs object and fields the
// side-input has no value for are left untouched. Best-effort: any failure
// returns the workflow unmodified.
func splice(workflow json.RawMessage, in *api.JobInput, uploaded []string, log *slog.Logger) json.RawMessage {
	out := workflow
	var spliceErr error

	gjson.ParseBytes(workflow).ForEach(func(nodeID, node gjson.Result) bool {
		inputs := node.Get("inputs")
		if !inputs.IsObject() {
			return true
		}

		for field, inject := range injectors {
			if !inputs.Get(field).Exists() {
				continue
			}
			value, ok := inject(in, uploaded)
			if !ok {
				continue
			}

			path := fmt.Sprintf("%s.inputs.%s", nodeID.String(), field)
			updated, err := sjson.SetBytes(out, path, value)
			if err != nil {
				spliceErr = fmt.Errorf("set %s: %w", path, err)
				return false
			}
			out = updated
		}
		return true
	})

	if spliceErr != nil {
		// Splicing never aborts a job; fall back to the caller's payload.
		log.Warn("input splicing failed, submitting workflow unmodified", "error", spliceErr)
		return workflow
	}
	return out
}
