package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in YAML source text before
// parsing, so secrets (academic API keys, Slack tokens) never need to be
// committed to the YAML files themselves.
//
// Missing variables expand to the empty string; validation catches the
// resulting empty required fields.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
