package appender

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	specsv1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/vigilops/vigil/pkg/account"
	"github.com/vigilops/vigil/pkg/registry"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

const (
	progressReportMinInterval = time.Second
)

// Result describes the pushed image.
type Result struct {
	Hash v1.Hash
	// AddedManifestLayers are the descriptors appended on top of base
	AddedManifestLayers []v1.Descriptor
}

// Appender realizes a descriptor against a registry: base in, provisioned
// image out. Each Appender instance is good for one Append.
type Appender struct {
	config    *schema.ProvisionConfig
	registry  *registry.RegistryConfig
	baseEmpty bool
	baseRef   name.Reference
	tagRef    name.Reference
	mediaType types.MediaType
	layerType types.MediaType
}

func New(config *schema.ProvisionConfig, registryConfig *registry.RegistryConfig) (*Appender, error) {
	c := Appender{
		config:   config,
		registry: registryConfig,
	}
	var err error
	if config.Base == "" {
		c.baseEmpty = true
	} else {
		c.baseRef, err = name.ParseReference(config.Base, registryConfig.CraneOptions.Name...)
		if err != nil {
			return nil, fmt.Errorf("parse base %s: %w", config.Base, err)
		}
		zap.L().Debug("base image", zap.String("ref", c.baseRef.String()))
	}
	if config.Tag == "" {
		return nil, fmt.Errorf("requires config tag")
	}
	c.tagRef, err = name.ParseReference(config.Tag, registryConfig.CraneOptions.Name...)
	if err != nil {
		return nil, fmt.Errorf("parse result image ref %s: %w", config.Tag, err)
	}
	zap.L().Debug("target image", zap.String("ref", c.tagRef.String()))
	return &c, nil
}

// base produces/retrieves the base image
func (c *Appender) base() (v1.Image, error) {
	if c.mediaType != "" {
		return nil, fmt.Errorf("appender base has already been resolved")
	}
	var base v1.Image
	var err error
	var mediaType = types.OCIManifestSchema1
	var configType = types.OCIConfigJSON
	if c.baseEmpty {
		zap.L().Info("base unspecified, using empty image",
			zap.String("type", string(mediaType)),
			zap.String("configType", string(configType)),
		)
		base = empty.Image
		base = mutate.MediaType(base, mediaType)
		base = mutate.ConfigMediaType(base, configType)
	} else {
		base, err = remote.Image(c.baseRef, c.registry.CraneOptions.Remote...)
		if err != nil {
			return nil, fmt.Errorf("pulling %s: %w", c.baseRef.String(), err)
		}
		mediaType, err = base.MediaType()
		if err != nil {
			return nil, fmt.Errorf("getting base image media type: %w", err)
		}
	}

	if mediaType == types.OCIManifestSchema1 {
		c.layerType = types.OCILayer
	} else {
		c.layerType = types.DockerLayer
	}
	c.mediaType = mediaType

	return base, nil
}

// Append is what you call once copy layers are ready. It resolves the base,
// synthesizes the account layer, rewrites the image config from the
// descriptor and pushes the result.
func (c *Appender) Append(layers ...v1.Layer) (Result, error) {
	noresult := Result{}
	if len(c.config.Packages) > 0 && !c.config.PackagesInBase {
		// nothing ever runs inside the image during append
		return noresult, fmt.Errorf("append cannot install packages, render a Dockerfile or declare packagesInBase")
	}
	if len(c.config.Platforms) > 1 {
		zap.L().Warn("unsupported multiple platforms, falling back to all", zap.Strings("platforms", c.config.Platforms))
	}
	if len(c.config.Platforms) == 1 {
		zap.L().Warn("unsupported single platform, falling back to all", zap.String("platform", c.config.Platforms[0]))
	}
	base, err := c.base()
	if err != nil {
		zap.L().Error("base image", zap.Error(err))
		return noresult, err
	}
	baseDigest, err := base.Digest()
	if err != nil {
		zap.L().Error("base image digest", zap.Error(err))
		return noresult, err
	}
	baseManifest, err := base.Manifest()
	if err != nil {
		return noresult, fmt.Errorf("base manifest: %w", err)
	}

	if len(c.config.Accounts) > 0 {
		accountLayer, err := c.accounts(base)
		if err != nil {
			zap.L().Error("account layer", zap.Error(err))
			return noresult, err
		}
		layers = append([]v1.Layer{accountLayer}, layers...)
	}

	img, err := mutate.AppendLayers(base, layers...)
	if err != nil {
		zap.L().Error("append layers", zap.Error(err))
		return noresult, err
	}
	img, err = c.remix(img)
	if err != nil {
		zap.L().Error("image config", zap.Error(err))
		return noresult, err
	}
	img = c.annotate(img, baseDigest)
	imgDigest, err := img.Digest()
	if err != nil {
		zap.L().Error("result image digest", zap.Error(err))
		return noresult, err
	}
	manifest, err := img.Manifest()
	if err != nil {
		return noresult, fmt.Errorf("result manifest: %w", err)
	}
	err = c.push(img)
	if err != nil {
		zap.L().Error("push", zap.Error(err))
		return noresult, err
	}
	zap.L().Info("pushed",
		zap.String("digest", imgDigest.String()),
	)
	return Result{
		Hash:                imgDigest,
		AddedManifestLayers: manifest.Layers[len(baseManifest.Layers):],
	}, nil
}

// accounts synthesizes the create-account step as a layer on top of base
func (c *Appender) accounts(base v1.Image) (v1.Layer, error) {
	baseFiles, err := account.FromImage(base)
	if err != nil {
		return nil, err
	}
	layer, _, err := account.Layer(baseFiles, c.config.Accounts)
	return layer, err
}

// remix rewrites the image config from the descriptor: env overrides on top
// of base env, exposed port metadata, working dir, user and entry command.
func (c *Appender) remix(img v1.Image) (v1.Image, error) {
	cf, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("image config: %w", err)
	}
	cfg := cf.DeepCopy()

	cfg.Config.Env = applyEnvOverrides(cfg.Config.Env, c.config.Env)

	if len(c.config.Expose) > 0 {
		if cfg.Config.ExposedPorts == nil {
			cfg.Config.ExposedPorts = make(map[string]struct{})
		}
		for _, port := range c.config.Expose {
			if !strings.Contains(port, "/") {
				port = port + "/tcp"
			}
			cfg.Config.ExposedPorts[port] = struct{}{}
		}
	}
	if c.config.WorkingDir != "" {
		cfg.Config.WorkingDir = c.config.WorkingDir
	}
	if c.config.User != "" {
		cfg.Config.User = c.config.User
	}
	if len(c.config.Entrypoint) > 0 {
		cfg.Config.Entrypoint = c.config.Entrypoint
		if len(c.config.Cmd) == 0 {
			// a new entrypoint invalidates the base cmd
			cfg.Config.Cmd = nil
		}
	}
	if len(c.config.Cmd) > 0 {
		cfg.Config.Cmd = c.config.Cmd
	}

	return mutate.ConfigFile(img, cfg)
}

// annotate is called after append
func (c *Appender) annotate(image v1.Image, baseDigest v1.Hash) v1.Image {
	a := map[string]string{
		specsv1.AnnotationBaseImageDigest: baseDigest.String(),
	}
	if c.baseRef != nil {
		if _, ok := c.baseRef.(name.Tag); ok {
			a[specsv1.AnnotationBaseImageName] = c.baseRef.Name()
		}
	}
	img := mutate.Annotations(image, a).(v1.Image)
	return img
}

func (c *Appender) push(image v1.Image) error {
	mediaType, err := image.MediaType()
	if err != nil {
		return err
	}
	zap.L().Info("pushing", zap.String("mediaType", string(mediaType)))

	progressChan := make(chan v1.Update, 200)
	errChan := make(chan error, 2)

	go func() {
		options := append(c.registry.CraneOptions.Remote, remote.WithProgress(progressChan))
		errChan <- remote.Write(
			c.tagRef,
			image,
			options...,
		)
	}()

	logger := zap.L()
	nextProgress := time.Now().Add(progressReportMinInterval)

	for update := range progressChan {
		if update.Error != nil {
			logger.Error("push update", zap.Error(update.Error))
			errChan <- update.Error
			break
		}

		if update.Complete == update.Total {
			logger.Info("pushed", zap.Int64("completed", update.Complete), zap.Int64("total", update.Total))
		} else {
			if time.Now().After(nextProgress) {
				nextProgress = time.Now().Add(progressReportMinInterval)
				logger.Info("push", zap.Int64("completed", update.Complete), zap.Int64("total", update.Total))
			}
		}
	}

	return <-errChan
}

func (c *Appender) LayerType() types.MediaType {
	if c.layerType == "" {
		zap.L().Fatal("layer media type not known before base has been resolved")
	}
	return c.layerType
}
