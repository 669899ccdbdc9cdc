package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	v1 "github.com/vigilops/vigil/pkg/schema/v1"
)

var accountNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*\$?$`)

// Validate rejects descriptors that a build or render would fail on anyway,
// so that no partial output is ever produced from a bad config.
func Validate(config *v1.ProvisionConfig) error {
	for i, copy := range config.Copies {
		hasFile := copy.LocalFile.Path != ""
		hasDir := copy.LocalDir.Path != ""
		if hasFile == hasDir {
			return fmt.Errorf("copies[%d] must have exactly one of localFile and localDir", i)
		}
		if err := validateMode(copy.Attributes.FileMode); err != nil {
			return fmt.Errorf("copies[%d] mode: %w", i, err)
		}
		if err := validateMode(copy.Attributes.DirMode); err != nil {
			return fmt.Errorf("copies[%d] dirMode: %w", i, err)
		}
	}
	for i, account := range config.Accounts {
		if !accountNamePattern.MatchString(account.Name) {
			return fmt.Errorf("accounts[%d] name %q is not a valid account name", i, account.Name)
		}
		if account.Shell != "" && !strings.HasPrefix(account.Shell, "/") {
			return fmt.Errorf("accounts[%d] shell must be an absolute path, got %q", i, account.Shell)
		}
	}
	for i, port := range config.Expose {
		if err := validateExpose(port); err != nil {
			return fmt.Errorf("expose[%d]: %w", i, err)
		}
	}
	for i, kv := range config.Env {
		if j := strings.Index(kv, "="); j < 1 {
			return fmt.Errorf("env[%d] must be KEY=VALUE, got %q", i, kv)
		}
	}
	for i, pkg := range config.Packages {
		if pkg == "" || strings.ContainsAny(pkg, " \t\n") {
			return fmt.Errorf("packages[%d] is not a valid package name: %q", i, pkg)
		}
	}
	if config.WorkingDir != "" && !strings.HasPrefix(config.WorkingDir, "/") {
		return fmt.Errorf("workingDir must be an absolute path, got %q", config.WorkingDir)
	}
	return nil
}

func validateMode(mode int32) error {
	if mode < 0 || mode > 0777 {
		return fmt.Errorf("must be a value between 0 and 0777, got %o", mode)
	}
	return nil
}

func validateExpose(port string) error {
	num := port
	if i := strings.Index(port, "/"); i >= 0 {
		num = port[:i]
		proto := port[i+1:]
		if proto != "tcp" && proto != "udp" {
			return fmt.Errorf("protocol must be tcp or udp, got %q", proto)
		}
	}
	p, err := strconv.Atoi(num)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("not a port number: %q", num)
	}
	return nil
}
