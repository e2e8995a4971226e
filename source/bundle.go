package source

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/func/seeder/seed"
	"github.com/pkg/errors"
)

// IsSeedFile returns true if the file name has a YAML extension.
func IsSeedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Pack writes the seed files in dir to w as a .tar.gz bundle. Files without a
// YAML extension are skipped.
//
// The file paths will be relative to the given directory.
func Pack(w io.Writer, dir string) error {
	dir = filepath.Clean(dir)
	gz := gzip.NewWriter(w)
	tf := tar.NewWriter(gz)

	if err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if path == dir {
			// Skip self
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if !info.Mode().IsRegular() || !IsSeedFile(path) {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return errors.WithStack(err)
		}
		hdr.Name = filepath.ToSlash(strings.TrimPrefix(path, dir+string(filepath.Separator)))
		if err = tf.WriteHeader(hdr); err != nil {
			return errors.WithStack(err)
		}
		f, err := os.Open(path)
		if err != nil {
			return errors.WithStack(err)
		}
		if _, err := io.Copy(tf, f); err != nil {
			_ = f.Close()
			return errors.WithStack(err)
		}
		return errors.WithStack(f.Close())
	}); err != nil {
		return err
	}

	if err := tf.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := gz.Close(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Unpack reads seeds from a .tar.gz bundle. Entries are decoded in name
// order. A ref that appears more than once is an error.
func Unpack(r io.Reader) ([]seed.Seed, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open gzip")
	}
	defer gz.Close()

	files := make(map[string][]seed.Seed)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read tar")
		}
		if hdr.Typeflag != tar.TypeReg || !IsSeedFile(hdr.Name) {
			continue
		}
		seeds, err := seed.Decode(tr)
		if err != nil {
			return nil, errors.Wrap(err, hdr.Name)
		}
		files[hdr.Name] = seeds
	}
	return Merge(files)
}

// Merge flattens seeds loaded from multiple files in file name order. A ref
// that is defined in more than one file is an error.
func Merge(files map[string][]seed.Seed) ([]seed.Seed, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[seed.Ref]string)
	var out []seed.Seed
	for _, name := range names {
		for _, s := range files[name] {
			if prev, ok := seen[s.Ref]; ok {
				return nil, errors.Errorf("%s: seed %s already defined in %s", name, s.Ref, prev)
			}
			seen[s.Ref] = name
			out = append(out, s)
		}
	}
	return out, nil
}

// A Bundle loads seeds from a .tar.gz file on disk.
type Bundle struct {
	Path string
}

var _ Loader = Bundle{}

// Load reads all seeds in the bundle.
func (b Bundle) Load(ctx context.Context) ([]seed.Seed, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open bundle")
	}
	defer f.Close()
	return Unpack(f)
}
