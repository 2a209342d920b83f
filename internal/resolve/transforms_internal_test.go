package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
	"github.com/systmms/rsecrets/pkg/provider"
)

const person = `
{
    "name": "John Doe",
    "age": 43,
    "active": true,
    "phones": [
        "+44 1234567",
        "+44 2345678"
    ],
    "address": {
        "street": "Downing Street 10"
    },
    "nothing": null,
    "blank": ""
}`

func TestExtractJSONPath(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		expectedValue string
	}{
		{name: "top-level string", path: "name", expectedValue: "John Doe"},
		{name: "nested field", path: "address.street", expectedValue: "Downing Street 10"},
		{name: "array index", path: "phones.0", expectedValue: "+44 1234567"},
		{name: "second array index", path: "phones.1", expectedValue: "+44 2345678"},
		{name: "number as written", path: "age", expectedValue: "43"},
		{name: "boolean", path: "active", expectedValue: "true"},
		{name: "object as JSON", path: "address", expectedValue: `{
        "street": "Downing Street 10"
    }`},
		{name: "null is empty", path: "nothing", expectedValue: ""},
		{name: "missing key is empty", path: "notExisted", expectedValue: ""},
		{name: "missing nested key is empty", path: "address.zip", expectedValue: ""},
		{name: "index out of range is empty", path: "phones.5", expectedValue: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONPath(person, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, got)
		})
	}
}

func TestExtractJSONPathInvalidDocument(t *testing.T) {
	_, err := extractJSONPath(`{"name": `, "name")
	assert.Error(t, err)

	_, err = extractJSONPath(`plain text`, "name")
	assert.Error(t, err)
}

func TestApplyFieldRules(t *testing.T) {
	tests := []struct {
		name    string
		field   v1beta1.SecretData
		fetched string
		want    map[string]string
		wantErr bool
	}{
		{
			name:    "raw value",
			field:   v1beta1.SecretData{Key: "plain-key"},
			fetched: "plain-value",
			want:    map[string]string{"plain-key": "plain-value"},
		},
		{
			name:    "json path",
			field:   v1beta1.SecretData{Key: "street", IsJSONString: true, RemotePath: "address.street"},
			fetched: person,
			want:    map[string]string{"street": "Downing Street 10"},
		},
		{
			name:    "json path that does not exist",
			field:   v1beta1.SecretData{Key: "x", IsJSONString: true, RemotePath: "notExisted"},
			fetched: person,
			want:    nil,
		},
		{
			name:    "json path with empty value",
			field:   v1beta1.SecretData{Key: "x", IsJSONString: true, RemotePath: "blank"},
			fetched: person,
			want:    nil,
		},
		{
			name:    "json flag without path keeps the document",
			field:   v1beta1.SecretData{Key: "doc", IsJSONString: true},
			fetched: `{"a":1}`,
			want:    map[string]string{"doc": `{"a":1}`},
		},
		{
			name:    "remote path ignored when not json",
			field:   v1beta1.SecretData{Key: "raw", RemotePath: "a"},
			fetched: `{"a":1}`,
			want:    map[string]string{"raw": `{"a":1}`},
		},
		{
			name:    "no key",
			field:   v1beta1.SecretData{IsJSONString: true, RemotePath: "name"},
			fetched: person,
			want:    nil,
		},
		{
			name:    "invalid json",
			field:   v1beta1.SecretData{Key: "x", IsJSONString: true, RemotePath: "a"},
			fetched: "not json",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyFieldRules(tt.field, tt.fetched)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheKeyCoversFetchInputs(t *testing.T) {
	base := cacheKey(v1beta1.BackendPulumi, "value", refOf("org/app/dev", "url", "", "", "tok"))

	assert.Equal(t, base, cacheKey(v1beta1.BackendPulumi, "value", refOf("org/app/dev", "url", "", "", "tok")))
	assert.NotEqual(t, base, cacheKey(v1beta1.BackendCloudformation, "value", refOf("org/app/dev", "url", "", "", "tok")))
	assert.NotEqual(t, base, cacheKey(v1beta1.BackendPulumi, "outputs", refOf("org/app/dev", "url", "", "", "tok")))
	assert.NotEqual(t, base, cacheKey(v1beta1.BackendPulumi, "value", refOf("org/app/dev", "host", "", "", "tok")))
	assert.NotEqual(t, base, cacheKey(v1beta1.BackendPulumi, "value", refOf("org/app/dev", "url", "", "", "other")))
	assert.NotEqual(t, base, cacheKey(v1beta1.BackendPulumi, "value", refOf("org/app/dev", "url", "p", "", "tok")))
	assert.NotEqual(t, base, cacheKey(v1beta1.BackendPulumi, "value", refOf("org/app/dev", "url", "", "2", "tok")))
	assert.NotContains(t, base, "tok")
}

func TestTimeoutSuggestion(t *testing.T) {
	for _, kind := range v1beta1.BackendTypes {
		assert.NotEmpty(t, getTimeoutSuggestion(kind, 0), kind)
	}
	assert.NotEmpty(t, getTimeoutSuggestion("Unknown", 0))
}

func refOf(key, path, profile, version, token string) provider.Reference {
	return provider.Reference{Key: key, Path: path, Profile: profile, Version: version, Token: token}
}
