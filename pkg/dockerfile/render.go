// Package dockerfile renders a provision descriptor to an equivalent
// Dockerfile, one instruction per declarative step in written order. This is
// the path that realizes package installation, which the daemonless build
// cannot (it never runs anything inside the image).
package dockerfile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/distribution/reference"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

// Render produces Dockerfile content for the descriptor. Output is
// deterministic: the same descriptor renders to the same bytes.
func Render(config schema.ProvisionConfig) (string, error) {
	if config.Base == "" {
		return "", fmt.Errorf("render requires a base image")
	}
	if _, err := reference.ParseNormalizedNamed(config.Base); err != nil {
		return "", fmt.Errorf("base %s: %w", config.Base, err)
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "FROM %s\n", config.Base)

	renderEnv(b, config)

	if len(config.Packages) > 0 {
		renderPackages(b, config.Packages)
	}

	for _, account := range config.Accounts {
		renderAccount(b, account)
	}

	for i, copy := range config.Copies {
		if err := renderCopy(b, copy); err != nil {
			return "", fmt.Errorf("copies[%d]: %w", i, err)
		}
	}

	for _, port := range config.Expose {
		fmt.Fprintf(b, "EXPOSE %s\n", port)
	}
	if config.WorkingDir != "" {
		fmt.Fprintf(b, "WORKDIR %s\n", config.WorkingDir)
	}
	if config.User != "" {
		fmt.Fprintf(b, "USER %s\n", config.User)
	}
	if len(config.Entrypoint) > 0 {
		fmt.Fprintf(b, "ENTRYPOINT %s\n", execForm(config.Entrypoint))
	}
	if len(config.Cmd) > 0 {
		fmt.Fprintf(b, "CMD %s\n", execForm(config.Cmd))
	}

	return b.String(), nil
}

func renderEnv(b *strings.Builder, config schema.ProvisionConfig) {
	noninteractive := false
	for _, kv := range config.Env {
		if strings.HasPrefix(kv, "DEBIAN_FRONTEND=") {
			noninteractive = true
		}
	}
	if len(config.Packages) > 0 && !noninteractive {
		// apt must not prompt during a build
		fmt.Fprintf(b, "ENV DEBIAN_FRONTEND=noninteractive\n")
	}
	for _, kv := range config.Env {
		fmt.Fprintf(b, "ENV %s\n", kv)
	}
}

// renderPackages emits a single install step: any unresolvable package fails
// the whole step, no partial-install recovery. The apt cache is cleared in
// the same layer to keep image size down.
func renderPackages(b *strings.Builder, packages []string) {
	unique := map[string]bool{}
	for _, pkg := range packages {
		unique[pkg] = true
	}
	sorted := make([]string, 0, len(unique))
	for pkg := range unique {
		sorted = append(sorted, pkg)
	}
	sort.Strings(sorted)

	fmt.Fprintf(b, "RUN apt-get update && \\\n")
	fmt.Fprintf(b, "    apt-get install -y --no-install-recommends %s && \\\n", strings.Join(sorted, " "))
	fmt.Fprintf(b, "    rm -rf /var/lib/apt/lists/*\n")
}

func renderAccount(b *strings.Builder, account schema.Account) {
	args := []string{"useradd", "-m"}
	shell := account.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	args = append(args, "-s", shell)
	if account.Uid != 0 {
		args = append(args, "-u", fmt.Sprintf("%d", account.Uid))
	}
	if account.Gid != 0 {
		args = append(args, "-g", fmt.Sprintf("%d", account.Gid))
	}
	if account.Home != "" {
		args = append(args, "-d", account.Home)
	}
	if len(account.Groups) > 0 {
		args = append(args, "-G", strings.Join(account.Groups, ","))
	}
	args = append(args, account.Name)

	if account.Password == "" {
		fmt.Fprintf(b, "RUN %s\n", strings.Join(args, " "))
		return
	}
	// cleartext test credential, see schema.Account
	fmt.Fprintf(b, "RUN %s && \\\n", strings.Join(args, " "))
	fmt.Fprintf(b, "    echo '%s:%s' | chpasswd\n", account.Name, account.Password)
}

func renderCopy(b *strings.Builder, copy schema.Copy) error {
	var src, dest string
	if copy.LocalFile.Path != "" {
		src = copy.LocalFile.Path
		dest = copy.LocalFile.ContainerPath
		if dest == "" {
			return fmt.Errorf("localFile %s requires a containerPath", src)
		}
	} else {
		src = copy.LocalDir.Path
		dest = copy.LocalDir.ContainerPath
		if dest == "" {
			dest = "/"
		}
		if len(copy.LocalDir.Ignore) > 0 {
			// COPY has no per-step ignore, that belongs in .dockerignore
			zap.L().Warn("ignore patterns are not rendered, use .dockerignore",
				zap.String("path", src),
				zap.Strings("ignore", copy.LocalDir.Ignore),
			)
		}
	}

	flags := ""
	if copy.Attributes.Uid != 0 || copy.Attributes.Gid != 0 {
		flags += fmt.Sprintf(" --chown=%d:%d", copy.Attributes.Uid, copy.Attributes.Gid)
	}
	if copy.Attributes.FileMode != 0 {
		flags += fmt.Sprintf(" --chmod=%04o", copy.Attributes.FileMode)
	}
	fmt.Fprintf(b, "COPY%s %s %s\n", flags, src, dest)
	return nil
}

func execForm(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = fmt.Sprintf("%q", arg)
	}
	return fmt.Sprintf("[%s]", strings.Join(quoted, ", "))
}
