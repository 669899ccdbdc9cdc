// Package provision orchestrates a descriptor run: copy layers from the
// local filesystem, then registry access to append, remix and push.
package provision

import (
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/vigilops/vigil/pkg/appender"
	"github.com/vigilops/vigil/pkg/layers"
	"github.com/vigilops/vigil/pkg/registry"
	schemav1 "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

// Run is what you call if you have a complete config and want to push an artifact
// - Depends on a zap.ReplaceGlobals logger
// - No side effects other than push to config.Tag
// - Not affected by environment, i.e. config defines a repeatable build
func Run(config schemav1.ProvisionConfig) (*Artifact, error) {
	layers, err := RunLayers(config)
	if err != nil {
		return nil, err
	}
	output, err := RunAppend(config, layers)
	if err != nil {
		return nil, err
	}
	return &output.Builds[0], nil
}

// RunLayers is the file system access part of a run
func RunLayers(config schemav1.ProvisionConfig) ([]v1.Layer, error) {

	layerBuilders := make([]layers.LayerBuilder, len(config.Copies))
	for i, copyCfg := range config.Copies {
		b, err := layers.NewLayerBuilder(copyCfg)
		if err != nil {
			zap.L().Error("copy layer builder",
				zap.Any("config", copyCfg),
				zap.Error(err),
			)
			return nil, err
		}
		layerBuilders[i] = b
	}

	built := make([]v1.Layer, len(layerBuilders))
	for i, builder := range layerBuilders {
		layer, err := builder()
		if err != nil {
			zap.L().Error("layer builder invocation failed", zap.Error(err))
			return nil, err
		}
		built[i] = layer
	}

	return built, nil

}

// RunAppend is the remote access part of a run
func RunAppend(config schemav1.ProvisionConfig, layers []v1.Layer) (*BuildOutput, error) {
	registryConfig, err := registry.New(config)
	if err != nil {
		return nil, err
	}
	return RunAppendWithRegistry(config, layers, registryConfig)
}

// RunAppendWithRegistry supports custom registry access, i.e. for tests
func RunAppendWithRegistry(config schemav1.ProvisionConfig, layers []v1.Layer, registryConfig *registry.RegistryConfig) (*BuildOutput, error) {
	a, err := appender.New(&config, registryConfig)
	if err != nil {
		zap.L().Error("appender initialization", zap.Error(err))
		return nil, err
	}

	result, err := a.Append(layers...)
	if err != nil {
		zap.L().Error("append", zap.Error(err))
		return nil, err
	}

	buildOutput, err := NewBuildOutput(config.Tag, result.Hash)
	if err != nil {
		zap.L().Error("buildOutput", zap.Error(err))
		return nil, err
	}

	return buildOutput, nil

}
