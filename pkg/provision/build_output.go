package provision

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"go.uber.org/zap"
)

// BuildOutput is used to produce a similar output file that Skaffold does
type BuildOutput struct {
	Builds []Artifact `json:"builds"`
	// Trace is internal, doesn't need to match the output of any other tool
	Trace *BuildTrace `json:"trace,omitempty"`
}

type Artifact struct {
	// Name without :tag or digest
	ImageName string `json:"imageName"`
	// Tag here includes name and digest, i.e. the config Tag that was pushed to
	Tag string `json:"tag"`
	// reference is kept internally for reuse
	reference name.Reference
	// hash is kept internally to assist http access
	hash v1.Hash
}

type ArtifactHttp struct {
	// Host is the registry host without protocol but with port
	Host string
	// Repository returns the path part of the image, excluding the /v2 http api prefix
	Repository string
	// Tag returns the tag name or "latest" if not specified
	Tag string
	// Hash returns digest, with algorithm and hex separable
	Hash v1.Hash
}

func (a *Artifact) Reference() name.Reference {
	return a.reference
}

func (a *Artifact) Http() ArtifactHttp {
	return ArtifactHttp{
		Host:       a.reference.Context().RegistryStr(),
		Repository: a.reference.Context().RepositoryStr(),
		Tag:        a.reference.Identifier(),
		Hash:       a.hash,
	}
}

// NewBuildOutput takes tag from config.Tag which is name:tag and
// hash from for example append to produce build output for a single image.
func NewBuildOutput(tag string, hash v1.Hash) (*BuildOutput, error) {
	a, err := newArtifact(tag, hash)
	if err != nil {
		return nil, err
	}
	return &BuildOutput{
		Builds: []Artifact{*a},
	}, nil
}

func newArtifact(tag string, hash v1.Hash) (*Artifact, error) {
	full := fmt.Sprintf("%s@%v", tag, hash)

	ref, err := reference.Parse(full)
	if err != nil {
		zap.L().Error("parse", zap.String("ref", full), zap.Error(err))
		return nil, err
	}
	named, ok := ref.(reference.Named)
	if !ok {
		zap.L().Error("named", zap.String("parsed", full), zap.String("ref", ref.String()))
		return nil, fmt.Errorf("not a named reference: %s", full)
	}

	r, err := name.ParseReference(tag)
	if err != nil {
		zap.L().Error("parse", zap.String("ref", tag))
		return nil, err
	}

	return &Artifact{
		Tag:       ref.String(),
		ImageName: named.Name(),
		reference: r,
		hash:      hash,
	}, nil
}

func (b *BuildOutput) Print() {
	for _, a := range b.Builds {
		fmt.Println(a.Tag)
	}
}

// WriteSkaffoldJSON writes the builds in skaffold's --file-output format
func (b *BuildOutput) WriteSkaffoldJSON(w io.Writer) error {
	j, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = w.Write(j)
	return err
}
