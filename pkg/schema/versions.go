package schema

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	v1 "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"
)

// Fs is the underlying filesystem to use for reading descriptor files. OS FS by default
var Fs = afero.NewOsFs()

var stdin []byte

// ParseConfig reads and validates a descriptor file.
func ParseConfig(filename string) (v1.ProvisionConfig, error) {
	noconfig := v1.ProvisionConfig{}
	buf, err := ReadConfiguration(filename)
	if err != nil {
		return noconfig, fmt.Errorf("read provision config: %w", err)
	}
	config, err := parseConfig(buf)
	if err != nil {
		return noconfig, err
	}
	if err := Validate(&config); err != nil {
		return noconfig, err
	}
	return config, nil
}

func parseConfig(buf []byte) (v1.ProvisionConfig, error) {
	b := bytes.NewReader(buf)
	decoder := yaml.NewDecoder(b)
	decoder.KnownFields(true)
	var config v1.ProvisionConfig
	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("decode provision config: %w", err)
	}
	config.Status.Sha256 = fmt.Sprintf("%x", sha256.Sum256(buf))
	config.Status.Md5 = fmt.Sprintf("%x", md5.Sum(buf))
	return config, nil
}

// ReadConfiguration reads config and returns content
func ReadConfiguration(filePath string) ([]byte, error) {
	switch {
	case filePath == "":
		return nil, errors.New("filename not specified")
	case filePath == "-":
		if len(stdin) == 0 {
			var err error
			stdin, err = io.ReadAll(os.Stdin)
			if err != nil {
				return []byte{}, err
			}
		}
		return stdin, nil
	default:
		if !filepath.IsAbs(filePath) {
			dir, err := os.Getwd()
			if err != nil {
				zap.L().Error("get absolute path for config",
					zap.String("path", filePath),
					zap.Error(err),
				)
				return []byte{}, err
			}
			filePath = filepath.Join(dir, filePath)
		}
		contents, err := afero.ReadFile(Fs, filePath)
		if err != nil {
			return []byte{}, err
		}

		return contents, err
	}
}

func ReadFile(filename string) ([]byte, error) {
	if !filepath.IsAbs(filename) {
		dir, err := os.Getwd()
		if err != nil {
			return []byte{}, err
		}
		filename = filepath.Join(dir, filename)
	}
	return afero.ReadFile(Fs, filename)
}
