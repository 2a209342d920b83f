package resolve

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// applyFieldRules shapes one fetched text into Secret entries.
//
// A field marked is_json_string with a remote_path yields the value at that
// dotted path (array indices are path segments, e.g. "phones.0"). A path that
// matches nothing, or matches an empty value, yields no entry. Every other
// field stores the fetched text verbatim under its key.
func applyFieldRules(field v1beta1.SecretData, fetched string) (map[string]string, error) {
	if field.Key == "" {
		return nil, nil
	}
	if !field.IsJSONString || field.RemotePath == "" {
		return map[string]string{field.Key: fetched}, nil
	}

	value, err := extractJSONPath(fetched, field.RemotePath)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	return map[string]string{field.Key: value}, nil
}

// extractJSONPath returns the value at path in doc, or "" when the path is absent
func extractJSONPath(doc, path string) (string, error) {
	if !gjson.Valid(doc) {
		return "", fmt.Errorf("value is not valid JSON")
	}
	return stringify(gjson.Get(doc, path)), nil
}

// stringify renders a JSON value as Secret content: strings verbatim,
// numbers and booleans as written, objects and arrays as JSON text.
func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}
