package account_test

import (
	"archive/tar"
	"io"
	"strings"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	. "github.com/onsi/gomega"
	"github.com/vigilops/vigil/pkg/account"
	"github.com/vigilops/vigil/pkg/localdir"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var basePasswd = []byte(`root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
ubuntu:x:1000:1000:Ubuntu:/home/ubuntu:/bin/bash
`)

var baseGroup = []byte(`root:x:0:
sudo:x:27:
ubuntu:x:1000:
`)

var baseShadow = []byte(`root:*:19000:0:99999:7:::
daemon:*:19000:0:99999:7:::
`)

func layerFile(layer v1.Layer, name string, t *testing.T) string {
	rc, err := layer.Uncompressed()
	if err != nil {
		t.Fatal(err)
	}
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
		if hdr.Name == name {
			content, err := io.ReadAll(tr)
			if err != nil {
				t.Fatal(err)
			}
			return string(content)
		}
	}
	t.Fatalf("layer has no %s", name)
	return ""
}

func TestLayer(t *testing.T) {
	RegisterTestingT(t)
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	base := &account.BaseFiles{Passwd: basePasswd, Group: baseGroup, Shadow: baseShadow}
	layer, resolved, err := account.Layer(base, []schema.Account{
		{
			Name:     "testuser",
			Password: "testpass",
			Shell:    "/bin/bash",
			Groups:   []string{"sudo"},
		},
	})
	Expect(err).To(BeNil())
	Expect(resolved).To(HaveLen(1))
	// 1000 is taken by ubuntu
	Expect(resolved[0].Uid).To(Equal(1001))
	Expect(resolved[0].Home).To(Equal("/home/testuser"))

	passwd := layerFile(layer, "etc/passwd", t)
	Expect(passwd).To(ContainSubstring("root:x:0:0"))
	Expect(passwd).To(ContainSubstring("testuser:x:1001:1001::/home/testuser:/bin/bash"))

	group := layerFile(layer, "etc/group", t)
	Expect(group).To(ContainSubstring("sudo:x:27:testuser"))
	Expect(group).To(ContainSubstring("testuser:x:1001:"))

	shadow := layerFile(layer, "etc/shadow", t)
	var line string
	for _, l := range strings.Split(shadow, "\n") {
		if strings.HasPrefix(l, "testuser:") {
			line = l
		}
	}
	Expect(line).NotTo(BeEmpty())
	Expect(strings.Split(line, ":")[1]).To(HavePrefix("$6$"))
}

func TestLayerReproducible(t *testing.T) {
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	build := func() v1.Hash {
		base := &account.BaseFiles{Passwd: basePasswd, Group: baseGroup, Shadow: baseShadow}
		layer, _, err := account.Layer(base, []schema.Account{
			{Name: "testuser", Password: "testpass", Groups: []string{"sudo"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		d, err := layer.Digest()
		if err != nil {
			t.Fatal(err)
		}
		return d
	}

	if build() != build() {
		t.Error("account layer should be reproducible, password salt included")
	}
}

func TestLayerLocked(t *testing.T) {
	RegisterTestingT(t)
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	base := &account.BaseFiles{Passwd: basePasswd, Group: baseGroup, Shadow: baseShadow}
	layer, _, err := account.Layer(base, []schema.Account{{Name: "svc"}})
	Expect(err).To(BeNil())
	Expect(layerFile(layer, "etc/shadow", t)).To(ContainSubstring("svc:*:"))
	// shell defaulted
	Expect(layerFile(layer, "etc/passwd", t)).To(ContainSubstring("svc:x:1001:1001::/home/svc:/bin/bash"))
}

func TestLayerCollisions(t *testing.T) {
	RegisterTestingT(t)
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	base := &account.BaseFiles{Passwd: basePasswd, Group: baseGroup, Shadow: baseShadow}

	_, _, err := account.Layer(base, []schema.Account{{Name: "ubuntu"}})
	Expect(err).To(MatchError(ContainSubstring("already exists")))

	_, _, err = account.Layer(base, []schema.Account{{Name: "testuser", Uid: 1000}})
	Expect(err).To(MatchError(ContainSubstring("already taken")))
}

func TestFromImage(t *testing.T) {
	RegisterTestingT(t)
	logger := zaptest.NewLogger(t)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	etc, err := localdir.FileLayer(map[string][]byte{
		"etc/passwd": basePasswd,
		"etc/group":  baseGroup,
		"etc/shadow": baseShadow,
	}, schema.CopyAttributes{})
	Expect(err).To(BeNil())
	img, err := mutate.AppendLayers(empty.Image, etc)
	Expect(err).To(BeNil())

	base, err := account.FromImage(img)
	Expect(err).To(BeNil())
	Expect(string(base.Passwd)).To(Equal(string(basePasswd)))
	Expect(string(base.Group)).To(Equal(string(baseGroup)))
	Expect(string(base.Shadow)).To(Equal(string(baseShadow)))
}

func TestFromImageEmptyBase(t *testing.T) {
	RegisterTestingT(t)

	base, err := account.FromImage(empty.Image)
	Expect(err).To(BeNil())
	Expect(base.Passwd).To(BeEmpty())
}
