package localdir

import (
	"fmt"
	"os"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

type File struct {
	Path          string
	ContainerPath string
	MaxSize       int
}

// FromFile buffers a single local file into a reproducible layer at the
// declared container path.
func FromFile(file File, attributes schema.CopyAttributes) (v1.Layer, error) {
	if file.Path == "" {
		return nil, fmt.Errorf("localFile path must be specified")
	}
	if file.ContainerPath == "" {
		return nil, fmt.Errorf("localFile %s requires a containerPath", file.Path)
	}
	if !strings.HasPrefix(file.ContainerPath, "/") {
		return nil, fmt.Errorf("containerPath must have leading slash, got: %s", file.ContainerPath)
	}
	content, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, fmt.Errorf("read copy source: %w", err)
	}
	if file.MaxSize > 0 && len(content) > file.MaxSize {
		return nil, fmt.Errorf("file size %d exceeds max size from copy config: %d", len(content), file.MaxSize)
	}
	modeMap := map[string]int64{}
	if info, err := os.Stat(file.Path); err == nil {
		modeMap[file.ContainerPath] = int64(info.Mode().Perm())
	}
	zap.L().Debug("added",
		zap.String("from", file.Path),
		zap.String("to", file.ContainerPath),
		zap.Int("size", len(content)),
	)
	filemap := map[string][]byte{
		file.ContainerPath: content,
	}
	return Layer(filemap, nil, nil, modeMap, attributes)
}
