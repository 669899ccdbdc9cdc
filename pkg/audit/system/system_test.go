package system

import (
	"context"
	"fmt"
	"testing"

	"github.com/onsi/gomega"
	"github.com/spf13/afero"
	"github.com/vigilops/vigil/pkg/audit"
)

// fakeRunner returns canned output per command name
type fakeRunner struct {
	outputs map[string]string
	errors  map[string]error
}

func (f fakeRunner) Run(_ context.Context, name string, _ ...string) (string, error) {
	if err, ok := f.errors[name]; ok {
		return "", err
	}
	out, ok := f.outputs[name]
	if !ok {
		return "", fmt.Errorf("%s: command not found", name)
	}
	return out, nil
}

func newTestFs() afero.Fs {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/etc/os-release", []byte(
		"NAME=\"Ubuntu\"\nVERSION_ID=\"22.04\"\nPRETTY_NAME=\"Ubuntu 22.04.4 LTS\"\n",
	), 0644)
	afero.WriteFile(fs, "/etc/passwd", []byte(
		"root:x:0:0:root:/root:/bin/bash\n"+
			"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n"+
			"sync:x:4:65534:sync:/bin:/bin/sync\n"+
			"testuser:x:1000:1000::/home/testuser:/bin/bash\n",
	), 0644)
	afero.WriteFile(fs, "/etc/group", []byte(
		"root:x:0:\nsudo:x:27:testuser,ubuntu\nusers:x:100:\n",
	), 0644)
	afero.WriteFile(fs, "/etc/shadow", []byte(
		"root:*:19000:0:99999:7:::\n"+
			"testuser::19000:0:99999:7:::\n",
	), 0640)
	afero.WriteFile(fs, "/etc/sudoers", []byte("root ALL=(ALL:ALL) ALL\n"), 0440)
	afero.WriteFile(fs, "/etc/ssh/sshd_config", []byte(
		"#PermitRootLogin prohibit-password\nPermitRootLogin yes\n",
	), 0644)
	return fs
}

func newTestRunner() fakeRunner {
	return fakeRunner{outputs: map[string]string{
		"uname": "Linux audit-host 5.15.0-105-generic #115-Ubuntu SMP x86_64 GNU/Linux",
		"ss":    "Netid State  Local Address:Port\ntcp   LISTEN 0.0.0.0:80\ntcp   LISTEN 0.0.0.0:22",
		"ufw":   "Status: active\n\nTo   Action  From\n80   ALLOW   Anywhere",
		"apt-get": "Reading package lists...\n" +
			"3 upgraded, 1 newly installed, 0 to remove and 0 not upgraded.",
	}}
}

func TestAudit(t *testing.T) {
	g := gomega.NewWithT(t)
	a := &Auditor{Fs: newTestFs(), Runner: newTestRunner()}

	report, err := a.Audit(context.Background())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(report.Metadata.Module).To(gomega.Equal("system"))

	g.Expect(report.OS.KernelVersion).To(gomega.ContainSubstring("5.15.0-105-generic"))
	g.Expect(report.OS.Release["name"]).To(gomega.Equal("Ubuntu"))
	g.Expect(report.OS.Release["version_id"]).To(gomega.Equal("22.04"))
	g.Expect(report.OS.Release["pretty_name"]).To(gomega.Equal("Ubuntu 22.04.4 LTS"))

	g.Expect(report.Users.LoginUsers).To(gomega.Equal([]string{"root", "sync", "testuser"}))
	g.Expect(report.Users.SudoUsers).To(gomega.Equal([]string{"testuser", "ubuntu"}))
	g.Expect(report.Users.NoPasswordUsers).To(gomega.Equal([]string{"testuser"}))
	g.Expect(report.Users.RootSSHLogin).To(gomega.Equal("Permitted"))

	g.Expect(report.Network.ListeningPorts).To(gomega.HaveLen(3))
	g.Expect(report.Network.FirewallStatus).To(gomega.ContainSubstring("Status: active"))

	g.Expect(report.FilePermissions["/etc/shadow"].Current).To(gomega.Equal("640"))
	g.Expect(report.FilePermissions["/etc/shadow"].Secure).To(gomega.BeTrue())
	g.Expect(report.FilePermissions["/etc/sudoers"].Secure).To(gomega.BeTrue())

	g.Expect(report.PendingUpdates.Upgraded).To(gomega.Equal(3))
	g.Expect(report.PendingUpdates.NewlyInstalled).To(gomega.Equal(1))
	g.Expect(report.PendingUpdates.ToRemove).To(gomega.Equal(0))
}

func TestAuditInsecureMode(t *testing.T) {
	g := gomega.NewWithT(t)
	fs := newTestFs()
	afero.WriteFile(fs, "/etc/shadow", []byte("root:*:19000:0:99999:7:::\n"), 0644)
	a := &Auditor{Fs: fs, Runner: newTestRunner()}

	report, err := a.Audit(context.Background())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(report.FilePermissions["/etc/shadow"].Current).To(gomega.Equal("644"))
	g.Expect(report.FilePermissions["/etc/shadow"].Recommended).To(gomega.Equal("640"))
	g.Expect(report.FilePermissions["/etc/shadow"].Secure).To(gomega.BeFalse())
}

func TestAuditMissingFile(t *testing.T) {
	g := gomega.NewWithT(t)
	fs := newTestFs()
	fs.Remove("/etc/sudoers")
	fs.Remove("/etc/ssh/sshd_config")
	a := &Auditor{Fs: fs, Runner: newTestRunner()}

	report, err := a.Audit(context.Background())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(report.FilePermissions["/etc/sudoers"].Error).To(gomega.Equal("File not found"))
	g.Expect(report.FilePermissions["/etc/sudoers"].Secure).To(gomega.BeFalse())
	g.Expect(report.Users.RootSSHLogin).To(gomega.Equal("Not Found"))
}

func TestAuditFirewallFallback(t *testing.T) {
	g := gomega.NewWithT(t)
	runner := newTestRunner()
	runner.errors = map[string]error{"ufw": fmt.Errorf("ufw: command not found")}
	runner.outputs["iptables"] = "Chain INPUT (policy ACCEPT)\ntarget prot opt source destination"
	a := &Auditor{Fs: newTestFs(), Runner: runner}

	report, err := a.Audit(context.Background())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(report.Network.FirewallStatus).To(gomega.HavePrefix("Using iptables:"))
}

func TestAuditNoFirewall(t *testing.T) {
	g := gomega.NewWithT(t)
	runner := newTestRunner()
	runner.errors = map[string]error{
		"ufw":      fmt.Errorf("ufw: command not found"),
		"iptables": fmt.Errorf("iptables: command not found"),
	}
	a := &Auditor{Fs: newTestFs(), Runner: runner}

	report, err := a.Audit(context.Background())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(report.Network.FirewallStatus).To(gomega.Equal("No firewall tool (UFW/iptables) found or active."))
}

func TestAuditUpdatesUnavailable(t *testing.T) {
	g := gomega.NewWithT(t)
	runner := newTestRunner()
	runner.errors = map[string]error{"apt-get": fmt.Errorf("apt-get: command not found")}
	a := &Auditor{Fs: newTestFs(), Runner: runner}

	report, err := a.Audit(context.Background())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(report.PendingUpdates.Error).To(gomega.ContainSubstring("could not check for updates"))
}

var _ audit.Runner = fakeRunner{}
