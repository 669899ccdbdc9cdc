// Package apache audits an Apache httpd installation: server build info,
// loaded modules and the effective value of security relevant configuration
// directives across the whole Include tree.
package apache

import (
	"context"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/vigilops/vigil/pkg/audit"
	"go.uber.org/zap"
)

const (
	ModuleName        = "apache"
	DefaultConfigFile = "/etc/apache2/apache2.conf"
)

// auditedDirectives is the fixed set of directives worth reporting on
var auditedDirectives = []string{
	"ServerTokens",
	"ServerSignature",
	"TraceEnable",
	"KeepAlive",
	"KeepAliveTimeout",
	"Timeout",
	"MaxRequestWorkers",
	"User",
	"Group",
	"Listen",
	"LogLevel",
	"ErrorLog",
	"CustomLog",
	"SSLEngine",
	"SSLProtocol",
	"SSLCipherSuite",
	"Options",
	"AllowOverride",
}

var (
	serverVersion = regexp.MustCompile(`Server version: (.*)`)
	serverBuilt   = regexp.MustCompile(`Server built:   (.*)`)
	serverMPM     = regexp.MustCompile(`Server MPM:     (.*)`)
	serverConfig  = regexp.MustCompile(`-D SERVER_CONFIG_FILE="(.*?)"`)
	includeLine   = regexp.MustCompile(`(?i)^\s*(Include|IncludeOptional)\s+(\S+)`)
)

type Report struct {
	Metadata      audit.Metadata    `json:"audit_metadata"`
	Server        ServerInfo        `json:"server_info"`
	LoadedModules []string          `json:"loaded_modules"`
	Directives    map[string]string `json:"config_directives"`
}

type ServerInfo struct {
	Version    string `json:"version,omitempty"`
	Built      string `json:"built,omitempty"`
	MPM        string `json:"mpm,omitempty"`
	ConfigFile string `json:"config_file,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Auditor struct {
	Fs     afero.Fs
	Runner audit.Runner
	// ConfigFile is where the directive scan starts, overridden by the
	// path apache2ctl -V reports when available
	ConfigFile string
}

func New() *Auditor {
	return &Auditor{
		Fs:         afero.NewOsFs(),
		Runner:     audit.ExecRunner{},
		ConfigFile: DefaultConfigFile,
	}
}

func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	zap.L().Info("apache audit starting")

	report := &Report{
		Metadata:   audit.NewMetadata(ModuleName),
		Directives: map[string]string{},
	}

	report.Server = a.serverInfo(ctx)
	report.LoadedModules = a.loadedModules(ctx)

	configFile := a.ConfigFile
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	if report.Server.ConfigFile != "" {
		configFile = report.Server.ConfigFile
	}
	report.Directives = a.scanDirectives(configFile)

	zap.L().Info("apache audit finished")
	return report, nil
}

func (a *Auditor) serverInfo(ctx context.Context) ServerInfo {
	zap.L().Info("collecting apache server information")
	stdout, err := a.Runner.Run(ctx, "apache2ctl", "-V")
	if err != nil {
		zap.L().Warn("apache2ctl not available", zap.Error(err))
		return ServerInfo{Error: "apache2ctl not found, is Apache installed?"}
	}
	info := ServerInfo{
		Version:    firstMatch(serverVersion, stdout),
		Built:      firstMatch(serverBuilt, stdout),
		MPM:        firstMatch(serverMPM, stdout),
		ConfigFile: firstMatch(serverConfig, stdout),
	}
	if info.ConfigFile != "" && !filepath.IsAbs(info.ConfigFile) {
		// httpd reports the path relative to HTTPD_ROOT
		root := firstMatch(regexp.MustCompile(`-D HTTPD_ROOT="(.*?)"`), stdout)
		info.ConfigFile = filepath.Join(root, info.ConfigFile)
	}
	return info
}

func (a *Auditor) loadedModules(ctx context.Context) []string {
	zap.L().Info("collecting loaded apache modules")
	stdout, err := a.Runner.Run(ctx, "apache2ctl", "-M")
	if err != nil {
		zap.L().Warn("could not list apache modules", zap.Error(err))
		return []string{}
	}
	modules := []string{}
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "module") || strings.HasPrefix(line, "Loaded") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			modules = append(modules, fields[0])
		}
	}
	sort.Strings(modules)
	return modules
}

// scanDirectives walks the configuration starting at root, following Include
// and IncludeOptional directives. The last occurrence of a directive wins,
// matching how httpd resolves global scope values.
func (a *Auditor) scanDirectives(root string) map[string]string {
	zap.L().Info("scanning apache configuration", zap.String("config", root))

	directives := make(map[string]string, len(auditedDirectives))
	for _, name := range auditedDirectives {
		directives[name] = "not found"
	}

	queue := []string{root}
	processed := map[string]bool{}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		if processed[path] {
			continue
		}
		processed[path] = true

		content, err := afero.ReadFile(a.Fs, path)
		if err != nil {
			zap.L().Warn("config file not readable", zap.String("path", path), zap.Error(err))
			continue
		}

		for _, line := range strings.Split(string(content), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			if m := includeLine.FindStringSubmatch(line); m != nil {
				pattern := strings.Trim(m[2], `"`)
				if !filepath.IsAbs(pattern) {
					pattern = filepath.Join(filepath.Dir(root), pattern)
				}
				matches, err := afero.Glob(a.Fs, pattern)
				if err != nil {
					zap.L().Warn("bad include pattern", zap.String("pattern", pattern), zap.Error(err))
					continue
				}
				sort.Strings(matches)
				queue = append(queue, matches...)
				continue
			}

			for _, name := range auditedDirectives {
				if len(line) < len(name) || !strings.EqualFold(line[:len(name)], name) {
					continue
				}
				rest := line[len(name):]
				if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
					continue
				}
				directives[name] = strings.TrimSpace(rest)
				break
			}
		}
	}

	return directives
}

func firstMatch(pattern *regexp.Regexp, s string) string {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
