package masking

import "github.com/aris-ai/aris/pkg/config"

// builtinPatterns returns the built-in regex patterns available to server
// masking configs by name. Results are masked in their JSON-encoded form,
// so key/value patterns capture the key and replace only the value; shape
// patterns (PEM blocks, key ids, URLs) replace inside string values. Both
// keep the surrounding JSON parseable.
func builtinPatterns() map[string]config.MaskingPattern {
	return map[string]config.MaskingPattern{
		"api_key": {
			Pattern:     `(?i)"([a-z0-9_\-]*api[_-]?key[a-z0-9_\-]*)"\s*:\s*"[^"]*"`,
			Replacement: `"${1}": "__MASKED_API_KEY__"`,
			Description: "API key fields",
		},
		"password": {
			Pattern:     `(?i)"([a-z0-9_\-]*(?:password|passwd|pwd)[a-z0-9_\-]*)"\s*:\s*"[^"]*"`,
			Replacement: `"${1}": "__MASKED_PASSWORD__"`,
			Description: "Password fields",
		},
		"token": {
			Pattern:     `(?i)"((?:access|refresh|auth|bearer|id|session|api)[_-]?token)"\s*:\s*"[^"]*"`,
			Replacement: `"${1}": "__MASKED_TOKEN__"`,
			Description: "Access token fields",
		},
		"secret": {
			Pattern:     `(?i)"([a-z0-9_\-]*secret[a-z0-9_\-]*)"\s*:\s*"[^"]*"`,
			Replacement: `"${1}": "__MASKED_SECRET__"`,
			Description: "Secret fields",
		},
		"jwt": {
			Pattern:     `\beyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*`,
			Replacement: `__MASKED_JWT__`,
			Description: "JWT tokens",
		},
		"bearer_header": {
			Pattern:     `(?i)\bBearer\s+[A-Za-z0-9_\-\.=]{16,}`,
			Replacement: `Bearer __MASKED_TOKEN__`,
			Description: "Bearer authorization values",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM certificates and keys",
		},
		"connection_string": {
			Pattern:     `(?i)\b([a-z][a-z0-9+]*)://([^:/\s"]+):([^@/\s"]+)@`,
			Replacement: `${1}://${2}:__MASKED__@`,
			Description: "Credentials embedded in connection URLs",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
		"aws_access_key": {
			Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
			Replacement: `__MASKED_AWS_KEY__`,
			Description: "AWS access key ids",
		},
	}
}

// builtinPatternGroups returns the predefined groups servers can reference
// via data_masking.pattern_groups. Group members name either a regex pattern
// or a code-based masker.
func builtinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"secrets":  {"credential_fields", "api_key", "password", "token", "secret", "jwt", "bearer_header"},
		"security": {"credential_fields", "api_key", "password", "token", "secret", "jwt", "bearer_header", "certificate", "connection_string", "ssh_key", "email"},
		"cloud":    {"aws_access_key", "api_key", "jwt"},
	}
}

// builtinCodeMaskers returns the registered code-based maskers. Names here
// are valid pattern group members alongside regex pattern names.
func builtinCodeMaskers() []Masker {
	return []Masker{
		&CredentialFieldMasker{},
	}
}
