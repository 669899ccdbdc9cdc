package provision

import (
	"regexp"
	"strings"
	"time"
)

var (
	defaultEnv = regexp.MustCompile(`^(CI|CI_.*|IMAGE|IMAGE_.*|VIGIL_.*)$`)
)

type BuildTrace struct {
	Start *time.Time        `json:"start,omitempty"`
	End   *time.Time        `json:"end,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

// BuildTraceEnv filters environ down to the variables that affect a build
func BuildTraceEnv(environ []string) map[string]string {
	env := make(map[string]string)
	for _, e := range environ {
		pair := strings.SplitN(e, "=", 2)
		if defaultEnv.MatchString(pair[0]) {
			env[pair[0]] = pair[1]
		}
	}
	return env
}
