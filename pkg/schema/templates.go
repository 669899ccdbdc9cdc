package schema

import (
	"os"

	v1 "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

// TagFromEnv gets target ref from a CI custom build invocation
func TagFromEnv() string {
	image, exists := os.LookupEnv("IMAGE")
	if exists {
		zap.L().Debug("IMAGE env found", zap.String("value", image))
	} else {
		return ""
	}
	return image
}

func TagFromEnvRequired() string {
	image := TagFromEnv()
	if image == "" {
		zap.L().Error("this mode requires IMAGE env")
	}
	return image
}

func IgnoreDefault() []string {
	return []string{
		"*Dockerfile",
		"*.dockerignore",
		"vigil.yaml",
	}
}

// TemplateApp is the fallback descriptor when invoked with only a base:
// current dir into /app on top of base, tagged from env.
func TemplateApp(base string) v1.ProvisionConfig {
	return v1.ProvisionConfig{
		Status: v1.ProvisionConfigStatus{
			Template: true,
		},
		Base: base,
		Tag:  TagFromEnvRequired(),
		Copies: []v1.Copy{
			{
				LocalDir: v1.LocalDir{
					Path:          ".",
					ContainerPath: "/app",
					Ignore:        IgnoreDefault(),
					MaxFiles:      100,
					MaxSize:       "104857600", // "100Mi"
				},
			},
		},
	}
}
