package appender_test

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	. "github.com/onsi/gomega"
	specsv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/vigilops/vigil/pkg/appender"
	"github.com/vigilops/vigil/pkg/localdir"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"github.com/vigilops/vigil/pkg/testcases"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var basePasswd = []byte("root:x:0:0:root:/root:/bin/bash\n")
var baseGroup = []byte("root:x:0:\nsudo:x:27:\n")
var baseShadow = []byte("root:*:19000:0:99999:7:::\n")

func TestAppend(t *testing.T) {
	RegisterTestingT(t)
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := testcases.NewTestregistry(ctx)
	if err := r.Start(); err != nil {
		t.Fatalf("testregistry start %v", err)
	}

	base, err := r.PushBase("vigil-test/base:apache", map[string][]byte{
		"etc/passwd": basePasswd,
		"etc/group":  baseGroup,
		"etc/shadow": baseShadow,
	}, func(cfg *v1.ConfigFile) {
		cfg.Config.Env = []string{"PATH=/usr/local/sbin:/usr/sbin:/usr/bin"}
		cfg.Config.Cmd = []string{"/bin/sh"}
	})
	if err != nil {
		t.Fatal(err)
	}

	config := &schema.ProvisionConfig{
		Base: base.String(),
		Tag:  fmt.Sprintf("%s/vigil-test/provisioned:1", r.Host),
		Env:  []string{"APACHE_RUN_DIR=/var/run/apache2"},
		Accounts: []schema.Account{
			{Name: "testuser", Password: "testpass", Shell: "/bin/bash", Groups: []string{"sudo"}},
		},
		Expose:     []string{"80"},
		WorkingDir: "/opt/audit",
		Cmd:        []string{"apache2ctl", "-D", "FOREGROUND"},
	}

	a, err := appender.New(config, &r.Config)
	if err != nil {
		t.Fatal(err)
	}

	copyLayer, err := localdir.FileLayer(map[string][]byte{
		"opt/audit/main.py": []byte("import os\n"),
	}, schema.CopyAttributes{})
	if err != nil {
		t.Fatal(err)
	}

	result, err := a.Append(copyLayer)
	if err != nil {
		t.Fatal(err)
	}

	// account layer plus the copy layer
	Expect(result.AddedManifestLayers).To(HaveLen(2))

	tag, err := name.ParseReference(config.Tag, r.Config.CraneOptions.Name...)
	if err != nil {
		t.Fatal(err)
	}
	pushed, err := remote.Image(tag, r.Config.CraneOptions.Remote...)
	if err != nil {
		t.Errorf("%s wasn't pushed? %v", config.Tag, err)
	}
	digest, err := pushed.Digest()
	if err != nil {
		t.Fatal(err)
	}
	Expect(digest).To(Equal(result.Hash))

	cf, err := pushed.ConfigFile()
	if err != nil {
		t.Fatal(err)
	}
	Expect(cf.Config.Cmd).To(Equal([]string{"apache2ctl", "-D", "FOREGROUND"}))
	Expect(cf.Config.WorkingDir).To(Equal("/opt/audit"))
	Expect(cf.Config.ExposedPorts).To(HaveKey("80/tcp"))
	Expect(cf.Config.Env).To(ContainElement("PATH=/usr/local/sbin:/usr/sbin:/usr/bin"))
	Expect(cf.Config.Env).To(ContainElement("APACHE_RUN_DIR=/var/run/apache2"))

	manifest, err := pushed.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	Expect(manifest.Annotations).To(HaveKey(specsv1.AnnotationBaseImageDigest))
	Expect(manifest.MediaType).To(Equal(types.OCIManifestSchema1))

	// provisioned filesystem has the account and the copied file
	fs := flatten(pushed, t)
	Expect(fs["etc/passwd"]).To(ContainSubstring("testuser:x:1000:1000::/home/testuser:/bin/bash"))
	Expect(fs["etc/group"]).To(ContainSubstring("sudo:x:27:testuser"))
	Expect(fs["opt/audit/main.py"]).To(Equal("import os\n"))
}

func TestAppendRefusesPackages(t *testing.T) {
	RegisterTestingT(t)
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := testcases.NewTestregistry(ctx)
	if err := r.Start(); err != nil {
		t.Fatalf("testregistry start %v", err)
	}

	config := &schema.ProvisionConfig{
		Base:     fmt.Sprintf("%s/vigil-test/base:apache", r.Host),
		Tag:      fmt.Sprintf("%s/vigil-test/provisioned:2", r.Host),
		Packages: []string{"apache2"},
	}
	a, err := appender.New(config, &r.Config)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Append()
	Expect(err).To(MatchError(ContainSubstring("cannot install packages")))
}

func flatten(img v1.Image, t *testing.T) map[string]string {
	result := make(map[string]string)
	rc := mutate.Extract(img)
	defer rc.Close()
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		result[strings.TrimPrefix(hdr.Name, "/")] = string(content)
	}
	return result
}
