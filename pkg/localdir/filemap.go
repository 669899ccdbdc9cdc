package localdir

import (
	"archive/tar"
	"bytes"
	"io"
	"sort"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	schema "github.com/vigilops/vigil/pkg/schema/v1"
)

const (
	defaultFileMode = int64(0644)
	defaultDirMode  = int64(0755)
)

// Layer creates a layer from file, dir, symlink and mode maps. These layers
// are reproducible and consistent.
// A filemap is a path -> file content map representing a file system.
// A dirmap is a path -> bool map representing directories to be created with proper permissions.
// A symlinkMap is a path -> bool map indicating which entries in filemap are symlinks (where content is the target).
// A modeMap is a path -> mode map containing the original file modes from the filesystem.
func Layer(filemap map[string][]byte, dirmap map[string]bool, symlinkMap map[string]bool, modeMap map[string]int64, attributes schema.CopyAttributes) (v1.Layer, error) {
	b := &bytes.Buffer{}
	w := tar.NewWriter(b)

	dn := []string{}
	for d := range dirmap {
		dn = append(dn, d)
	}
	sort.Strings(dn)

	for _, d := range dn {
		mode := defaultDirMode
		if attributes.DirMode != 0 {
			mode = int64(attributes.DirMode)
		} else if attributes.FileMode != 0 {
			mode = int64(attributes.FileMode)
		} else if originalMode, exists := modeMap[d]; exists {
			mode = originalMode
		}
		if err := w.WriteHeader(&tar.Header{
			Name:     d,
			Uid:      int(attributes.Uid),
			Gid:      int(attributes.Gid),
			Mode:     mode,
			Typeflag: tar.TypeDir,
		}); err != nil {
			return nil, err
		}
	}

	fn := []string{}
	for f := range filemap {
		fn = append(fn, f)
	}
	sort.Strings(fn)

	for _, f := range fn {
		c := filemap[f]
		mode := defaultFileMode
		if attributes.FileMode != 0 {
			mode = int64(attributes.FileMode)
		} else if originalMode, exists := modeMap[f]; exists {
			mode = originalMode
		}

		if symlinkMap[f] {
			// for symlinks the content is the target path
			if err := w.WriteHeader(&tar.Header{
				Name:     f,
				Linkname: string(c),
				Uid:      int(attributes.Uid),
				Gid:      int(attributes.Gid),
				Mode:     mode,
				Typeflag: tar.TypeSymlink,
			}); err != nil {
				return nil, err
			}
			continue
		}
		if err := w.WriteHeader(&tar.Header{
			Name:     f,
			Size:     int64(len(c)),
			Uid:      int(attributes.Uid),
			Gid:      int(attributes.Gid),
			Mode:     mode,
			Typeflag: tar.TypeReg,
		}); err != nil {
			return nil, err
		}
		if _, err := w.Write(c); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Return a new copy of the buffer each time it's opened.
	return tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBuffer(b.Bytes())), nil
	})
}

// FileLayer is the filemap-only entry point used for single files and
// synthesized content.
func FileLayer(filemap map[string][]byte, attributes schema.CopyAttributes) (v1.Layer, error) {
	return Layer(filemap, nil, nil, nil, attributes)
}
