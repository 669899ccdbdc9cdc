package layers

import (
	"errors"
	"fmt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/moby/patternmatcher"
	"github.com/vigilops/vigil/pkg/localdir"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
)

type LayerBuilder func() (v1.Layer, error)

// NewLayerBuilder maps one copy declaration to a layer builder.
// Each copy item must have exactly one source type.
func NewLayerBuilder(cfg schema.Copy) (LayerBuilder, error) {
	if cfg.LocalFile.Path != "" {
		if cfg.LocalDir.Path != "" {
			return nil, errors.New("each copy item must have exactly one source, got localFile and localDir")
		}
		return configureFile(cfg.LocalFile, cfg.Attributes)
	}
	if cfg.LocalDir.Path != "" {
		return configureDir(cfg.LocalDir, cfg.Attributes)
	}
	return nil, errors.New("no copy source found")
}

func configureFile(cfg schema.LocalFile, attributes schema.CopyAttributes) (LayerBuilder, error) {
	file := localdir.File{
		Path:          cfg.Path,
		ContainerPath: cfg.ContainerPath,
	}
	if cfg.MaxSize != "" {
		s, err := localdir.NewSize(cfg.MaxSize)
		if err != nil {
			return nil, err
		}
		file.MaxSize = s
	}
	return func() (v1.Layer, error) {
		return localdir.FromFile(file, attributes)
	}, nil
}

func configureDir(cfg schema.LocalDir, attributes schema.CopyAttributes) (LayerBuilder, error) {
	dir := localdir.Dir{
		Path: cfg.Path,
	}
	if cfg.ContainerPath != "" {
		var err error
		dir.ContainerPath, err = localdir.NewPathMapperPrepend(cfg.ContainerPath)
		if err != nil {
			return nil, err
		}
	}
	if len(cfg.Ignore) > 0 {
		var err error
		dir.Ignore, err = patternmatcher.New(cfg.Ignore)
		if err != nil {
			return nil, fmt.Errorf("patternmatcher from: %v", cfg.Ignore)
		}
	}
	if cfg.MaxFiles > 0 {
		dir.MaxFiles = cfg.MaxFiles
	}
	if cfg.MaxSize != "" {
		s, err := localdir.NewSize(cfg.MaxSize)
		if err != nil {
			return nil, err
		}
		dir.MaxSize = s
	}
	return func() (v1.Layer, error) {
		return localdir.FromFilesystem(dir, attributes)
	}, nil
}
