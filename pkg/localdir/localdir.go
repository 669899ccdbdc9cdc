package localdir

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/moby/patternmatcher"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
	"go.uber.org/zap"
)

type PathMapper func(string) string

type Dir struct {
	Path          string
	ContainerPath PathMapper
	Ignore        *patternmatcher.PatternMatcher
	MaxFiles      int
	MaxSize       int
}

func NewPathMapperPrepend(prependDir string) (PathMapper, error) {
	if !strings.HasPrefix(prependDir, "/") {
		return nil, fmt.Errorf("containerPath must have leading slash, got: %s", prependDir)
	}
	if strings.HasSuffix(prependDir, "/") {
		return nil, fmt.Errorf("containerPath should be a path without trailing slash, got: %s", prependDir)
	}
	return func(original string) string {
		return fmt.Sprintf("%s/%s", prependDir, original)
	}, nil
}

func NewPathMapperAsIs() PathMapper {
	return func(original string) string {
		return original
	}
}

// FromFilesystem buffers a directory tree into a reproducible layer.
// Local file modes are preserved unless attributes override them.
func FromFilesystem(dir Dir, attributes schema.CopyAttributes) (v1.Layer, error) {

	if dir.Path == "" {
		return nil, fmt.Errorf("localDir must be specified (use . for CWD)")
	}

	if dir.ContainerPath == nil {
		dir.ContainerPath = NewPathMapperAsIs()
	}

	if dir.Ignore == nil {
		dir.Ignore, _ = patternmatcher.New([]string{})
	}

	bytesTotal := 0
	filemap := make(map[string][]byte)
	dirmap := make(map[string]bool)
	symlinkMap := make(map[string]bool)
	modeMap := make(map[string]int64)

	fileSystem := os.DirFS(dir.Path)

	err := fs.WalkDir(fileSystem, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsDir() {
			if path == "." {
				return nil
			}
			ignore, err := dir.Ignore.MatchesOrParentMatches(path)
			if err != nil {
				return err
			}
			if ignore {
				zap.L().Debug("ignored", zap.String("path", path))
				return fs.SkipDir
			}
			topath := dir.ContainerPath(path)
			dirmap[topath] = true
			if info, err := d.Info(); err == nil {
				modeMap[topath] = int64(info.Mode().Perm())
			}
			return nil
		}
		ignore, err := dir.Ignore.MatchesOrParentMatches(path)
		if err != nil {
			return err
		}
		if ignore {
			zap.L().Debug("ignored", zap.String("path", path))
			return nil
		}
		if dir.MaxFiles > 0 && len(filemap) >= dir.MaxFiles {
			return fmt.Errorf("number of files exceeds max from copy config: %d", dir.MaxFiles)
		}
		topath := dir.ContainerPath(path)
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(filepath.Join(dir.Path, path))
			if err != nil {
				return err
			}
			filemap[topath] = []byte(target)
			symlinkMap[topath] = true
			modeMap[topath] = int64(0777)
			zap.L().Debug("added symlink",
				zap.String("from", path),
				zap.String("to", topath),
				zap.String("target", target),
			)
			return nil
		}
		file, err := fs.ReadFile(fileSystem, path)
		if err != nil {
			return err
		}
		bytesTotal = bytesTotal + len(file)
		if dir.MaxSize > 0 && bytesTotal > dir.MaxSize {
			return fmt.Errorf("accumulated file size %d exceeds max size from copy config: %d", bytesTotal, dir.MaxSize)
		}
		filemap[topath] = file
		if info, err := d.Info(); err == nil {
			modeMap[topath] = int64(info.Mode().Perm())
		}
		zap.L().Debug("added",
			zap.String("from", path),
			zap.String("to", topath),
			zap.Int("size", len(file)),
		)

		return nil
	})

	if err != nil {
		zap.L().Error("layer buffer failed", zap.Int("files", len(filemap)), zap.Int("bytes", bytesTotal), zap.Error(err))
		return nil, err
	}
	zap.L().Info("layer buffer created", zap.Int("files", len(filemap)), zap.Int("bytes", bytesTotal))

	if len(filemap) == 0 {
		return nil, fmt.Errorf("dir resulted in empty layer: %s", dir.Path)
	}

	return Layer(filemap, dirmap, symlinkMap, modeMap, attributes)

}
