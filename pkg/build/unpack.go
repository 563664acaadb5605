package build

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// UnpackOptions configures Unpack
type UnpackOptions struct {
	// Strip removes the given number of leading path elements from each entry
	Strip int
	// Progress displays a progress bar on stderr (never shown if $CI is "true")
	Progress bool
	// Clean removes the destination before extracting
	Clean bool
}

type extractor func(ctx context.Context, f *os.File, bar *progressbar.ProgressBar, dest Dir, opts UnpackOptions) error

func getExtractor(name string) (extractor, error) {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return func(ctx context.Context, f *os.File, bar *progressbar.ProgressBar, dest Dir, opts UnpackOptions) error {
			reader, err := gzip.NewReader(io.TeeReader(f, bar))
			if err != nil {
				return eris.Wrap(err, "failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(ctx, reader, dest, opts)
		}, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return func(ctx context.Context, f *os.File, bar *progressbar.ProgressBar, dest Dir, opts UnpackOptions) error {
			return extractTar(ctx, bzip2.NewReader(io.TeeReader(f, bar)), dest, opts)
		}, nil
	case strings.HasSuffix(name, ".tar.xz"):
		return func(ctx context.Context, f *os.File, bar *progressbar.ProgressBar, dest Dir, opts UnpackOptions) error {
			reader, err := xz.NewReader(io.TeeReader(f, bar))
			if err != nil {
				return eris.Wrap(err, "failed to open xz stream")
			}

			return extractTar(ctx, reader, dest, opts)
		}, nil
	}

	return nil, eris.Errorf("archive format of %s not supported", name)
}

func getProgressBar(length int64, desc string, visible bool) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		visible = false
	}

	return progressbar.NewOptions64(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetVisibility(visible),
	)
}

// Unpack extracts a .zip, .tar.gz, .tgz, .tar.bz2 or .tar.xz archive into dest. Entries which
// would end up outside of dest are rejected.
func Unpack(ctx context.Context, archive File, dest Dir, opts UnpackOptions) error {
	extract, err := getExtractor(strings.ToLower(filepath.Base(archive.Path())))
	if err != nil {
		return err
	}

	f, err := archive.Open()
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", archive)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", archive)
	}

	if opts.Clean {
		err = os.RemoveAll(dest.Path())
		if err != nil {
			return eris.Wrapf(err, "failed to remove %s", dest)
		}
	}

	err = dest.Create()
	if err != nil {
		return err
	}

	Log(ctx).Info().Str("path", archive.Path()).Msgf("Unpacking into %s", dest)
	bar := getProgressBar(info.Size(), "extract", opts.Progress)
	err = extract(ctx, f, bar, dest, opts)
	if err != nil {
		return eris.Wrapf(err, "failed to unpack %s", archive)
	}

	return bar.Finish()
}

// entryPath maps an archive entry to its location below dest. It returns an empty string for
// entries that are stripped away entirely.
func entryPath(dest Dir, name string, strip int) (string, error) {
	slashed := filepath.ToSlash(name)
	if strings.HasPrefix(slashed, "/") || filepath.VolumeName(name) != "" {
		return "", eris.Errorf("entry %s has an absolute path", name)
	}

	parts := make([]string, 0, strings.Count(slashed, "/")+1)
	for _, elem := range strings.Split(slashed, "/") {
		if elem != "" && elem != "." {
			parts = append(parts, elem)
		}
	}

	if len(parts) <= strip {
		return "", nil
	}

	target, err := dest.subPath(filepath.FromSlash(strings.Join(parts[strip:], "/")))
	if err != nil {
		return "", eris.Wrapf(err, "entry %s points outside of %s", name, dest)
	}

	return target, nil
}

// resolveInside follows rel from base one element at a time, resolving symlinks that already
// exist on disk, and fails as soon as the result leaves root. root and base have to be real paths.
func resolveInside(root, base, rel string) (string, error) {
	cur := base
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for idx, elem := range parts {
		switch elem {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, elem)
			info, err := os.Lstat(cur)
			if err == nil && info.Mode()&os.ModeSymlink != 0 {
				resolved, err := filepath.EvalSymlinks(cur)
				switch {
				case err == nil:
					cur = resolved
				case idx < len(parts)-1:
					return "", eris.Wrapf(err, "failed to resolve %s", cur)
				}
			}
		}

		inside, err := filepath.Rel(root, cur)
		if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
			return "", eris.Errorf("%s is outside of %s", cur, root)
		}
	}

	return cur, nil
}

func realDest(dest Dir) (string, error) {
	root, err := filepath.EvalSymlinks(dest.Path())
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", dest)
	}

	return root, nil
}

// checkEntry makes sure that writing to target doesn't pass through a symlink leading out of dest
func checkEntry(dest Dir, target string) error {
	root, err := realDest(dest)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(dest.Path(), target)
	if err != nil {
		return eris.Wrapf(err, "failed to check %s", target)
	}

	_, err = resolveInside(root, root, rel)
	if err != nil {
		return eris.Wrapf(err, "entry %s points outside of %s", target, dest)
	}

	return nil
}

// checkLink makes sure that a symlink at linkPath pointing to target stays inside dest
func checkLink(dest Dir, linkPath, target string) error {
	if filepath.IsAbs(target) || strings.HasPrefix(filepath.ToSlash(target), "/") {
		return eris.Errorf("symlink %s points to absolute path %s", linkPath, target)
	}

	linkRel, err := filepath.Rel(dest.Path(), filepath.Dir(linkPath))
	if err != nil {
		return eris.Wrapf(err, "failed to check symlink %s", linkPath)
	}

	resolved, ok := resolvePath(filepath.Join(linkRel, target))
	if !ok || resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
		return eris.Errorf("symlink %s points outside of %s", linkPath, dest)
	}

	root, err := realDest(dest)
	if err != nil {
		return err
	}

	base, err := resolveInside(root, root, linkRel)
	if err == nil {
		_, err = resolveInside(root, base, target)
	}
	if err != nil {
		return eris.Wrapf(err, "symlink %s points outside of %s", linkPath, dest)
	}

	return nil
}

// removeLink deletes a symlink at target so that writing a file there can't follow it
func removeLink(target string) error {
	info, err := os.Lstat(target)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}

	err = os.Remove(target)
	if err != nil {
		return eris.Wrapf(err, "failed to remove existing symlink %s", target)
	}

	return nil
}

func writeDir(dest Dir, target string) error {
	err := checkEntry(dest, target)
	if err != nil {
		return err
	}

	return os.MkdirAll(target, 0770)
}

func writeEntry(dest Dir, target string, r io.Reader, mode os.FileMode) error {
	err := checkEntry(dest, filepath.Dir(target))
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(target), 0770)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(target))
	}

	err = removeLink(target)
	if err != nil {
		return err
	}

	if mode&0600 == 0 {
		mode |= 0600
	}

	hdl, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return eris.Wrapf(err, "failed to create file %s", target)
	}

	_, err = io.Copy(hdl, r)
	if err != nil {
		hdl.Close()
		return eris.Wrapf(err, "failed to write extracted file %s", target)
	}

	err = hdl.Close()
	if err != nil {
		return eris.Wrapf(err, "failed to write extracted file %s", target)
	}

	// OpenFile doesn't change the mode of existing files
	return os.Chmod(target, mode.Perm())
}

func writeLink(dest Dir, target, linkname string) error {
	err := checkEntry(dest, filepath.Dir(target))
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(target), 0770)
	if err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Dir(target))
	}

	err = checkLink(dest, target, linkname)
	if err != nil {
		return err
	}

	err = os.Remove(target)
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "failed to remove existing file %s", target)
	}

	err = os.Symlink(linkname, target)
	if err != nil {
		return eris.Wrapf(err, "failed to create symlink %s pointing to %s", target, linkname)
	}

	return nil
}

func extractZip(ctx context.Context, f *os.File, bar *progressbar.ProgressBar, dest Dir, opts UnpackOptions) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, info.Size())
	if err != nil {
		return eris.Wrap(err, "failed to read zip index")
	}

	for _, item := range archive.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := entryPath(dest, item.Name, opts.Strip)
		if err != nil {
			return err
		}

		if target == "" {
			continue
		}

		mode := item.Mode()
		switch {
		case mode.IsDir():
			err = writeDir(dest, target)
		case mode&os.ModeSymlink != 0:
			err = extractZipLink(dest, target, item)
		default:
			err = extractZipFile(dest, target, item)
		}
		if err != nil {
			return err
		}

		_ = bar.Add64(int64(item.CompressedSize64))
	}

	return nil
}

func extractZipFile(dest Dir, target string, item *zip.File) error {
	r, err := item.Open()
	if err != nil {
		return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
	}
	defer r.Close()

	return writeEntry(dest, target, r, item.Mode())
}

func extractZipLink(dest Dir, target string, item *zip.File) error {
	r, err := item.Open()
	if err != nil {
		return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
	}
	defer r.Close()

	linkname, err := io.ReadAll(r)
	if err != nil {
		return eris.Wrapf(err, "failed to read archive entry %s", item.Name)
	}

	return writeLink(dest, target, string(linkname))
}

func extractTar(ctx context.Context, r io.Reader, dest Dir, opts UnpackOptions) error {
	archive := tar.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "failed to read archive entry")
		}

		target, err := entryPath(dest, item.Name, opts.Strip)
		if err != nil {
			return err
		}

		if target == "" {
			continue
		}

		switch item.Typeflag {
		case tar.TypeDir:
			err = writeDir(dest, target)
		case tar.TypeSymlink:
			err = writeLink(dest, target, item.Linkname)
		case tar.TypeReg:
			err = writeEntry(dest, target, archive, item.FileInfo().Mode())
		default:
			Log(ctx).Debug().Str("path", item.Name).Msgf("Skipping unsupported entry type %c", item.Typeflag)
		}
		if err != nil {
			return err
		}
	}

	return nil
}
