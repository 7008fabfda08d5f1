package util

import (
	"os"
	"strings"
)

// MergeEnv returns the process environment with extra KEY=VALUE entries
// applied on top. Inherited entries for the same keys are dropped.
func MergeEnv(extra []string) []string {
	override := make(map[string]struct{}, len(extra))
	for _, kv := range extra {
		k, _, _ := strings.Cut(kv, "=")
		override[k] = struct{}{}
	}
	env := make([]string, 0, len(os.Environ())+len(extra))
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := override[k]; ok {
			continue
		}
		env = append(env, kv)
	}
	return append(env, extra...)
}
