package masking

import (
	"encoding/json"
	"strings"
)

// MaskedCredentialValue is the replacement for masked credential field values.
const MaskedCredentialValue = "__MASKED_CREDENTIAL__"

// credentialKeys are the exact field names (after normalization) whose values
// are always masked.
var credentialKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"pwd":           true,
	"secret":        true,
	"apikey":        true,
	"apisecret":     true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"authtoken":     true,
	"bearertoken":   true,
	"idtoken":       true,
	"sessiontoken":  true,
	"authorization": true,
	"credential":    true,
	"credentials":   true,
	"privatekey":    true,
	"secretkey":     true,
	"clientsecret":  true,
}

// credentialSuffixes catch composite names like db_password or tls_secret.
// Token is deliberately absent: pagination cursors (page_token, next_token)
// are data the executioner may need to resolve templates against.
var credentialSuffixes = []string{"password", "secret"}

// CredentialFieldMasker masks values of credential-named fields in JSON tool
// results, whatever the value looks like. Regex patterns catch credential
// shapes; this masker catches credential names.
type CredentialFieldMasker struct{}

// Name returns the unique identifier for this masker.
func (m *CredentialFieldMasker) Name() string { return "credential_fields" }

// AppliesTo performs a lightweight check on whether this masker should
// process the data.
func (m *CredentialFieldMasker) AppliesTo(data string) bool {
	lower := strings.ToLower(data)
	for _, marker := range []string{"password", "passwd", "secret", "token", "api_key", "apikey", "credential", "authorization", "private_key"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Mask parses the data as JSON and masks credential-named fields at any
// depth. Returns original data on parse errors (defensive).
func (m *CredentialFieldMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return data
	}

	var parsed any
	if err := json.Unmarshal([]byte(data), &parsed); err != nil {
		return data
	}

	masked, changed := maskCredentialValues(parsed)
	if !changed {
		return data
	}

	out, err := json.Marshal(masked)
	if err != nil {
		return data
	}
	return string(out)
}

// maskCredentialValues walks a decoded JSON tree and replaces values under
// credential-named keys. Returns the (possibly shared) tree and whether
// anything changed.
func maskCredentialValues(node any) (any, bool) {
	switch v := node.(type) {
	case map[string]any:
		changed := false
		for key, val := range v {
			if isCredentialKey(key) {
				if s, ok := val.(string); !ok || s != MaskedCredentialValue {
					v[key] = MaskedCredentialValue
					changed = true
				}
				continue
			}
			if _, c := maskCredentialValues(val); c {
				changed = true
			}
		}
		return v, changed
	case []any:
		changed := false
		for i := range v {
			if _, c := maskCredentialValues(v[i]); c {
				changed = true
			}
		}
		return v, changed
	default:
		return node, false
	}
}

// isCredentialKey normalizes a field name (lowercase, separators stripped)
// and checks it against the credential key set and suffixes.
func isCredentialKey(key string) bool {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(key))

	if credentialKeys[normalized] {
		return true
	}
	for _, suffix := range credentialSuffixes {
		if strings.HasSuffix(normalized, suffix) && normalized != suffix {
			return true
		}
	}
	return false
}
