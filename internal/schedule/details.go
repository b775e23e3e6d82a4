package schedule

import (
	"encoding/json"
	"fmt"
)

// mergeDetails deep-merges the patch JSON object into base and returns the
// merged document. Nested objects merge recursively; scalars and arrays in
// the patch replace the base value. An empty base is treated as {}.
func mergeDetails(base, patch string) (string, error) {
	if patch == "" {
		return base, nil
	}

	dst := map[string]interface{}{}
	if base != "" {
		if err := json.Unmarshal([]byte(base), &dst); err != nil {
			return "", fmt.Errorf("schedule: parse stored details: %w", err)
		}
	}
	src := map[string]interface{}{}
	if err := json.Unmarshal([]byte(patch), &src); err != nil {
		return "", fmt.Errorf("schedule: parse details patch: %w", err)
	}

	merged, err := json.Marshal(deepMerge(dst, src))
	if err != nil {
		return "", fmt.Errorf("schedule: marshal merged details: %w", err)
	}
	return string(merged), nil
}

// deepMerge merges src into dst in place and returns dst.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		sv, srcIsMap := v.(map[string]interface{})
		dv, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = deepMerge(dv, sv)
			continue
		}
		dst[k] = v
	}
	return dst
}
