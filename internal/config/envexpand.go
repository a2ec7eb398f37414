package config

import "os"

// ExpandEnv resolves ${VAR} and $VAR references in a settings file's raw
// bytes before it is parsed as YAML, the same way tarsy's pkg/config
// envexpand.go does: a missing variable expands to the empty string
// rather than failing, since os.ExpandEnv itself never errors.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
