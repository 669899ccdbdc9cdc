package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vigilops/vigil/pkg/appender"
	"github.com/vigilops/vigil/pkg/provision"
	"github.com/vigilops/vigil/pkg/schema"
	schemav1 "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

const (
	envPlatforms = "PLATFORMS"
	envBase      = "VIGIL_BASE"
)

var tStart = time.Now()

// build command flag variables
var (
	configPath   string
	base         string
	fileOutput   string
	platformsEnv bool
)

// newBuildCmd defines the build subcommand and its flags
func newBuildCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "build [context path]",
		Short: "Append provisioning layers to a base image and push",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return errors.New("too many args: at most one context path")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error { return runBuild(args) },
	}
	c.Flags().StringVarP(&configPath, "c", "c", "vigil.yaml", "descriptor path relative to context dir, or - for stdin")
	c.Flags().StringVarP(&base, "b", "b", "", "base image (implies tag = $IMAGE, local dir = $PWD, container path = /app)")
	c.Flags().StringVar(&fileOutput, "file-output", "", "produce a builds JSON like Skaffold does")
	c.Flags().BoolVar(&platformsEnv, "platforms-env-require", false, fmt.Sprintf("requires env %s to be set, unless descriptor specifies platforms", envPlatforms))
	return c
}

func runBuild(args []string) error {
	if version {
		fmt.Fprintf(os.Stderr, "%s\n", BUILD)
		return nil
	}

	logger := newLogger()
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	chdir, err := enterContext(args)
	if err != nil {
		return err
	}
	if chdir != nil {
		defer chdir.Cleanup()
	}

	config, err := loadConfig()
	if err != nil {
		return err
	}

	aboutConfig := make([]zap.Field, 0)
	if config.Status.Template {
		aboutConfig = append(aboutConfig, zap.Bool("templated", config.Status.Template))
	} else {
		aboutConfig = append(aboutConfig, zap.String("md5", config.Status.Md5), zap.String("sha256", config.Status.Sha256))
	}
	if config.Status.Overrides.Base {
		aboutConfig = append(aboutConfig, zap.Bool("overriddenBase", true))
	}
	if workdir, err := os.Getwd(); err == nil {
		aboutConfig = append(aboutConfig, zap.String("workdir", workdir))
	}
	zap.L().Info("descriptor", aboutConfig...)

	layers, err := provision.RunLayers(config)
	if err != nil {
		zap.L().Fatal("layers", zap.Error(err))
	}

	buildOutput, err := provision.RunAppend(config, layers)
	if err != nil {
		zap.L().Fatal("append", zap.Error(err))
	}
	tEnd := time.Now()
	buildOutput.Trace = &provision.BuildTrace{Start: &tStart, End: &tEnd, Env: provision.BuildTraceEnv(os.Environ())}
	buildOutput.Print()

	writeBuildOutput(buildOutput)
	return nil
}

// enterContext chdirs to the context path argument, if given
func enterContext(args []string) (*appender.Chdir, error) {
	var workdir string
	if len(args) == 1 {
		workdir = args[0]
	}
	if workdir == "" || workdir == "." || workdir == "./" {
		return nil, nil
	}
	workdir, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("absolute path %s: %w", workdir, err)
	}
	stat, err := os.Stat(workdir)
	if err != nil {
		return nil, fmt.Errorf("context path not found %s: %w", workdir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("context path not a directory %s", workdir)
	}
	return appender.NewChdir(workdir), nil
}

// loadConfig parses the descriptor and applies base, tag and platforms
// fallbacks from flags and environment
func loadConfig() (schemav1.ProvisionConfig, error) {
	if base == "" && os.Getenv(envBase) != "" {
		base = os.Getenv(envBase)
		zap.L().Debug("base from env")
	}

	config, err := schema.ParseConfig(configPath)
	if err != nil {
		zap.L().Debug("descriptor parse failed, expected if invoked with -b", zap.Error(err), zap.String("path", configPath), zap.String("-b", base))
		if base == "" {
			return config, fmt.Errorf("build requires descriptor or base + env: %w", err)
		}
		zap.L().Info("descriptor from template", zap.String("base", base))
		config = schema.TemplateApp(base)
	} else if base != "" {
		if config.Base != "" {
			config.Status.Overrides.Base = true
			zap.L().Debug("descriptor parsed, base overridden", zap.String("base", base))
		} else {
			zap.L().Debug("descriptor parsed, base set", zap.String("base", base))
		}
		config.Base = base
	} else {
		zap.L().Debug("descriptor parsed", zap.String("base", config.Base))
	}

	if config.Tag == "" {
		image, exists := os.LookupEnv("IMAGE")
		if exists {
			zap.L().Debug("read IMAGE env", zap.String("tag", image))
			config.Tag = image
		} else {
			repo, repoExists := os.LookupEnv("IMAGE_REPO")
			rtag, rtagExists := os.LookupEnv("IMAGE_TAG")
			if repoExists && rtagExists {
				config.Tag = fmt.Sprintf("%s:%s", repo, rtag)
				zap.L().Debug("read IMAGE_REPO and IMAGE_TAG env", zap.String("tag", config.Tag))
			} else {
				return config, errors.New("descriptor tag must be set, or env IMAGE, or envs IMAGE_REPO and IMAGE_TAG")
			}
		}
	}

	platforms, exists := os.LookupEnv(envPlatforms)
	if exists {
		p := strings.Split(platforms, ",")
		zap.L().Debug("env", zap.String("name", envPlatforms), zap.Strings("platforms", p))
		if len(config.Platforms) == 0 {
			config.Platforms = p
		} else if !slices.Equal(config.Platforms, p) {
			zap.L().Info("platforms not equal, descriptor kept", zap.String("env", platforms), zap.Strings("descriptor", config.Platforms))
		}
	} else if platformsEnv {
		return config, fmt.Errorf("%s env required but not found", envPlatforms)
	}

	return config, nil
}

func writeBuildOutput(buildOutput *provision.BuildOutput) {
	if fileOutput == "" {
		return
	}
	f, err := os.OpenFile(fileOutput, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		wd, _ := os.Getwd()
		zap.L().Fatal("file-output open", zap.String("cwd", wd), zap.String("path", fileOutput), zap.Error(err))
	}
	defer f.Close()
	if writeErr := buildOutput.WriteSkaffoldJSON(f); writeErr != nil {
		wd, _ := os.Getwd()
		zap.L().Fatal("file-output write", zap.String("cwd", wd), zap.String("path", fileOutput), zap.Error(writeErr))
	}
}
