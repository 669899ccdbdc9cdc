package testcases

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/vigilops/vigil/pkg/localdir"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
)

// PushBase seeds the test registry with a synthetic base image built from a
// filemap plus optional config edits, and returns its tag reference.
func (r *TestRegistry) PushBase(repo string, filemap map[string][]byte, configure func(*v1.ConfigFile)) (name.Reference, error) {
	layer, err := localdir.FileLayer(filemap, schema.CopyAttributes{})
	if err != nil {
		return nil, fmt.Errorf("base layer: %w", err)
	}
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return nil, fmt.Errorf("base append: %w", err)
	}
	if configure != nil {
		cf, err := img.ConfigFile()
		if err != nil {
			return nil, fmt.Errorf("base config: %w", err)
		}
		cfg := cf.DeepCopy()
		configure(cfg)
		img, err = mutate.ConfigFile(img, cfg)
		if err != nil {
			return nil, fmt.Errorf("base config mutate: %w", err)
		}
	}
	ref, err := name.ParseReference(fmt.Sprintf("%s/%s", r.Host, repo), r.Config.CraneOptions.Name...)
	if err != nil {
		return nil, err
	}
	if err := remote.Write(ref, img, r.Config.CraneOptions.Remote...); err != nil {
		return nil, fmt.Errorf("base push: %w", err)
	}
	return ref, nil
}
