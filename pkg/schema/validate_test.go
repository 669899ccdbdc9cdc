package schema_test

import (
	"testing"

	. "github.com/onsi/gomega"
	"github.com/vigilops/vigil/pkg/schema"
	v1 "github.com/vigilops/vigil/pkg/schema/v1"
)

func TestValidate(t *testing.T) {
	RegisterTestingT(t)

	ok := v1.ProvisionConfig{
		Copies: []v1.Copy{
			{LocalFile: v1.LocalFile{Path: "./apache2.conf", ContainerPath: "/etc/apache2/apache2.conf"}},
		},
		Accounts: []v1.Account{
			{Name: "testuser", Shell: "/bin/bash", Groups: []string{"sudo"}},
		},
		Expose:     []string{"80", "8443/tcp"},
		Env:        []string{"DEBIAN_FRONTEND=noninteractive"},
		WorkingDir: "/opt/audit",
	}
	Expect(schema.Validate(&ok)).To(Succeed())

	both := v1.ProvisionConfig{
		Copies: []v1.Copy{
			{
				LocalFile: v1.LocalFile{Path: "./a"},
				LocalDir:  v1.LocalDir{Path: "./b"},
			},
		},
	}
	Expect(schema.Validate(&both)).To(MatchError(ContainSubstring("exactly one")))

	neither := v1.ProvisionConfig{Copies: []v1.Copy{{}}}
	Expect(schema.Validate(&neither)).To(MatchError(ContainSubstring("exactly one")))

	badName := v1.ProvisionConfig{Accounts: []v1.Account{{Name: "Test User"}}}
	Expect(schema.Validate(&badName)).To(MatchError(ContainSubstring("valid account name")))

	badShell := v1.ProvisionConfig{Accounts: []v1.Account{{Name: "testuser", Shell: "bash"}}}
	Expect(schema.Validate(&badShell)).To(MatchError(ContainSubstring("absolute path")))

	badPort := v1.ProvisionConfig{Expose: []string{"http"}}
	Expect(schema.Validate(&badPort)).To(MatchError(ContainSubstring("port")))

	badProto := v1.ProvisionConfig{Expose: []string{"80/sctp"}}
	Expect(schema.Validate(&badProto)).To(MatchError(ContainSubstring("tcp or udp")))

	badEnv := v1.ProvisionConfig{Env: []string{"NOEQUALS"}}
	Expect(schema.Validate(&badEnv)).To(MatchError(ContainSubstring("KEY=VALUE")))

	badPackage := v1.ProvisionConfig{Packages: []string{"apache2 python3"}}
	Expect(schema.Validate(&badPackage)).To(MatchError(ContainSubstring("package name")))

	badWorkdir := v1.ProvisionConfig{WorkingDir: "opt/audit"}
	Expect(schema.Validate(&badWorkdir)).To(MatchError(ContainSubstring("absolute")))
}

func TestValidateModeRange(t *testing.T) {
	RegisterTestingT(t)

	tooHigh := v1.ProvisionConfig{
		Copies: []v1.Copy{
			{
				Attributes: v1.CopyAttributes{FileMode: 01000},
				LocalFile:  v1.LocalFile{Path: "./f"},
			},
		},
	}
	Expect(schema.Validate(&tooHigh)).To(MatchError(ContainSubstring("between 0 and 0777")))
}
