package registry

import (
	"regexp"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

var (
	insecureAccessRefs = regexp.MustCompile(`^[^/]+\.local/`)
)

type RegistryConfig struct {
	CraneOptions crane.Options
}

func New(config schema.ProvisionConfig) (*RegistryConfig, error) {
	c := &RegistryConfig{}
	c.CraneOptions = crane.Options{
		Remote: []remote.Option{
			remote.WithAuthFromKeychain(authn.DefaultKeychain),
		},
		Keychain: authn.DefaultKeychain,
	}

	if insecureAccessRefs.Match([]byte(config.Base)) {
		zap.L().Debug("insecure access enabled", zap.String("base", config.Base))
		crane.Insecure(&c.CraneOptions)
	} else if insecureAccessRefs.Match([]byte(config.Tag)) {
		zap.L().Debug("insecure access enabled", zap.String("tag", config.Tag))
		crane.Insecure(&c.CraneOptions)
	}

	return c, nil
}
