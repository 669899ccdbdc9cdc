// Package system audits a Linux host (tailored for Debian/Ubuntu): operating
// system identity, account hygiene, network exposure, sensitive file modes
// and pending package updates.
package system

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/vigilops/vigil/pkg/audit"
	"go.uber.org/zap"
)

const ModuleName = "system"

// nologin shells mark accounts that cannot be used interactively
var nologinShells = map[string]bool{
	"/sbin/nologin":     true,
	"/bin/false":        true,
	"/usr/sbin/nologin": true,
}

// recommendedModes are the expected permission bits for sensitive files
var recommendedModes = map[string]string{
	"/etc/shadow":  "640",
	"/etc/passwd":  "644",
	"/etc/group":   "644",
	"/etc/sudoers": "440",
}

var (
	permitRootLogin = regexp.MustCompile(`(?i)^\s*PermitRootLogin\s+yes`)
	aptUpgraded     = regexp.MustCompile(`(\d+)\s+upgraded`)
	aptNewlyInstalled = regexp.MustCompile(`(\d+)\s+newly installed`)
	aptToRemove       = regexp.MustCompile(`(\d+)\s+to remove`)
)

type Report struct {
	Metadata        audit.Metadata            `json:"audit_metadata"`
	OS              OSInfo                    `json:"os_info"`
	Users           UserInfo                  `json:"user_info"`
	Network         NetworkInfo               `json:"network_info"`
	FilePermissions map[string]FilePermission `json:"file_permissions"`
	PendingUpdates  UpdateSummary             `json:"pending_updates"`
}

type OSInfo struct {
	KernelVersion string            `json:"kernel_version,omitempty"`
	Release       map[string]string `json:"release"`
}

type UserInfo struct {
	LoginUsers      []string `json:"login_users"`
	SudoUsers       []string `json:"sudo_users"`
	NoPasswordUsers []string `json:"users_with_no_password"`
	RootSSHLogin    string   `json:"root_ssh_login"`
}

type NetworkInfo struct {
	ListeningPorts []string `json:"listening_ports"`
	FirewallStatus string   `json:"firewall_status"`
}

type FilePermission struct {
	Current     string `json:"current,omitempty"`
	Recommended string `json:"recommended,omitempty"`
	Secure      bool   `json:"is_secure"`
	Error       string `json:"error,omitempty"`
}

type UpdateSummary struct {
	Upgraded       int    `json:"upgraded_packages"`
	NewlyInstalled int    `json:"newly_installed"`
	ToRemove       int    `json:"to_be_removed"`
	Error          string `json:"error,omitempty"`
}

// Auditor collects everything through Fs and Runner so the whole audit is
// testable without a host.
type Auditor struct {
	Fs     afero.Fs
	Runner audit.Runner
}

func New() *Auditor {
	return &Auditor{
		Fs:     afero.NewOsFs(),
		Runner: audit.ExecRunner{},
	}
}

// Audit runs all sections. A section that cannot be collected degrades to
// its zero or error value instead of failing the whole audit.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	zap.L().Info("system audit starting")

	report := &Report{
		Metadata:        audit.NewMetadata(ModuleName),
		OS:              a.osInfo(ctx),
		Users:           a.userInfo(ctx),
		Network:         a.networkInfo(ctx),
		FilePermissions: a.filePermissions(),
		PendingUpdates:  a.pendingUpdates(ctx),
	}

	zap.L().Info("system audit finished")
	return report, nil
}

func (a *Auditor) osInfo(ctx context.Context) OSInfo {
	zap.L().Info("collecting OS information")
	info := OSInfo{Release: map[string]string{}}

	if stdout, err := a.Runner.Run(ctx, "uname", "-a"); err == nil {
		info.KernelVersion = stdout
	}

	content, err := afero.ReadFile(a.Fs, "/etc/os-release")
	if err != nil {
		zap.L().Warn("file /etc/os-release not found")
		info.Release["distribution"] = "Unknown"
		return info
	}
	for _, line := range strings.Split(string(content), "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found || key == "" {
			continue
		}
		info.Release[strings.ToLower(key)] = strings.Trim(value, `"`)
	}
	return info
}

func (a *Auditor) userInfo(ctx context.Context) UserInfo {
	zap.L().Info("collecting user and group information")
	info := UserInfo{
		LoginUsers:      []string{},
		SudoUsers:       []string{},
		NoPasswordUsers: []string{},
		RootSSHLogin:    "Not checked",
	}

	if content, err := afero.ReadFile(a.Fs, "/etc/passwd"); err != nil {
		zap.L().Error("file /etc/passwd not found")
	} else {
		for _, line := range strings.Split(string(content), "\n") {
			parts := strings.Split(strings.TrimSpace(line), ":")
			if len(parts) != 7 {
				continue
			}
			if !nologinShells[parts[6]] {
				info.LoginUsers = append(info.LoginUsers, parts[0])
			}
		}
	}

	if content, err := afero.ReadFile(a.Fs, "/etc/group"); err != nil {
		zap.L().Warn("file /etc/group not found")
	} else {
		for _, line := range strings.Split(string(content), "\n") {
			if !strings.HasPrefix(line, "sudo:") {
				continue
			}
			parts := strings.Split(strings.TrimSpace(line), ":")
			if len(parts) == 4 && parts[3] != "" {
				info.SudoUsers = strings.Split(parts[3], ",")
			}
			break
		}
	}

	// shadow needs privileges, missing access degrades to an empty list
	if content, err := afero.ReadFile(a.Fs, "/etc/shadow"); err != nil {
		zap.L().Warn("file /etc/shadow not readable", zap.Error(err))
	} else {
		for _, line := range strings.Split(string(content), "\n") {
			parts := strings.Split(strings.TrimSpace(line), ":")
			if len(parts) > 1 && parts[1] == "" {
				info.NoPasswordUsers = append(info.NoPasswordUsers, parts[0])
			}
		}
	}

	info.RootSSHLogin = a.rootSSHLogin()
	return info
}

func (a *Auditor) rootSSHLogin() string {
	content, err := afero.ReadFile(a.Fs, "/etc/ssh/sshd_config")
	if err != nil {
		zap.L().Warn("file /etc/ssh/sshd_config not found")
		return "Not Found"
	}
	for _, line := range strings.Split(string(content), "\n") {
		if permitRootLogin.MatchString(line) {
			return "Permitted"
		}
	}
	return "Not Permitted or Default"
}

func (a *Auditor) networkInfo(ctx context.Context) NetworkInfo {
	zap.L().Info("collecting network information")
	info := NetworkInfo{
		ListeningPorts: []string{},
		FirewallStatus: "Not checked",
	}

	// ss is the modern replacement for netstat
	if stdout, err := a.Runner.Run(ctx, "ss", "-tuln"); err == nil {
		info.ListeningPorts = strings.Split(stdout, "\n")
	}

	if stdout, err := a.Runner.Run(ctx, "ufw", "status"); err == nil && stdout != "" {
		info.FirewallStatus = stdout
		return info
	}
	zap.L().Info("ufw not active or installed, checking for iptables rules")
	if stdout, err := a.Runner.Run(ctx, "iptables", "-L"); err == nil && stdout != "" {
		info.FirewallStatus = "Using iptables:\n" + stdout
		return info
	}
	info.FirewallStatus = "No firewall tool (UFW/iptables) found or active."
	return info
}

func (a *Auditor) filePermissions() map[string]FilePermission {
	zap.L().Info("checking permissions of sensitive files")
	permissions := make(map[string]FilePermission, len(recommendedModes))

	paths := make([]string, 0, len(recommendedModes))
	for path := range recommendedModes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		recommended := recommendedModes[path]
		info, err := a.Fs.Stat(path)
		if err != nil {
			permissions[path] = FilePermission{Error: "File not found"}
			continue
		}
		current := strconv.FormatUint(uint64(info.Mode().Perm()), 8)
		permissions[path] = FilePermission{
			Current:     current,
			Recommended: recommended,
			Secure:      current == recommended,
		}
	}
	return permissions
}

func (a *Auditor) pendingUpdates(ctx context.Context) UpdateSummary {
	zap.L().Info("checking for pending system updates")
	// simulate a dist-upgrade and read the summary line
	stdout, err := a.Runner.Run(ctx, "apt-get", "-s", "dist-upgrade")
	if err != nil {
		return UpdateSummary{Error: fmt.Sprintf("could not check for updates: %v", err)}
	}
	return UpdateSummary{
		Upgraded:       matchCount(aptUpgraded, stdout),
		NewlyInstalled: matchCount(aptNewlyInstalled, stdout),
		ToRemove:       matchCount(aptToRemove, stdout),
	}
}

func matchCount(pattern *regexp.Regexp, s string) int {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
