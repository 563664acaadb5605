package pkg

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/aidarkhanov/nanoid"
	"github.com/andybalholm/brotli"
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"

	"github.com/ngld/devbox/pkg/build"
)

const (
	karMagic   = "KNAR"
	karVersion = 2
	// 4 chars and 3 int32s
	karHeaderSize = 4 + 12
	// offset, size, decSize and the name length
	karEntrySize = 14
)

// checkKarSize makes sure a value fits into the format's int32 fields
func checkKarSize(value int64, what string) (int32, error) {
	if value < 0 || value > math.MaxInt32 {
		return 0, eris.Errorf("%s (%d) is too large for a kar archive", what, value)
	}

	return int32(value), nil
}

// KarFile contains the metadata for a file entry
type KarFile struct {
	offset  int32
	size    int32
	decSize int32
}

// KarFolder contains an index of the available sub-folders and files
type KarFolder struct {
	folders map[string]*KarFolder
	files   map[string]*KarFile
}

func newKarFolder() *KarFolder {
	return &KarFolder{
		folders: map[string]*KarFolder{},
		files:   map[string]*KarFile{},
	}
}

// KarWriter can write .kar archives
type KarWriter struct {
	hdl      *os.File
	root     *KarFolder
	dirStack []*KarFolder
	current  *KarFolder
	buffer   []byte
}

// NewKarWriter creates a new KarWriter instance and opens it for writing
func NewKarWriter(out build.File) (*KarWriter, error) {
	hdl, err := out.Create()
	if err != nil {
		return nil, err
	}

	root := newKarFolder()

	// the header is written once the TOC is complete
	_, err = hdl.Seek(karHeaderSize, io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, err
	}

	return &KarWriter{
		hdl:      hdl,
		root:     root,
		dirStack: []*KarFolder{root},
		current:  root,
		buffer:   make([]byte, 4096),
	}, nil
}

// OpenDirectory creates a new directory entry. Anything created until the next CloseDirectory() call will be created
// inside this directory.
func (w *KarWriter) OpenDirectory(dirname string) error {
	if _, exists := w.current.files[dirname]; exists {
		return eris.Errorf("a file named %s already exists", dirname)
	}

	dir, exists := w.current.folders[dirname]
	if !exists {
		dir = newKarFolder()
		w.current.folders[dirname] = dir
	}

	w.dirStack = append(w.dirStack, dir)
	w.current = dir

	return nil
}

// CloseDirectory closes the directory that was last opened
func (w *KarWriter) CloseDirectory() error {
	stackLen := len(w.dirStack)
	if stackLen < 2 {
		return eris.New("no directory left on stack")
	}

	w.dirStack = w.dirStack[:stackLen-1]
	w.current = w.dirStack[stackLen-2]
	return nil
}

// WriteFile creates a new file in the current archive directory and returns the compressed size
func (w *KarWriter) WriteFile(filename string, reader io.Reader) (int64, error) {
	if _, exists := w.current.folders[filename]; exists {
		return 0, eris.Errorf("a directory named %s already exists", filename)
	}

	item := new(KarFile)
	offset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	item.offset, err = checkKarSize(offset, "file offset")
	if err != nil {
		return 0, err
	}
	brw := brotli.NewWriterLevel(w.hdl, brotli.BestCompression)

	decSize, err := io.CopyBuffer(brw, reader, w.buffer)
	if err != nil {
		return 0, err
	}

	err = brw.Close()
	if err != nil {
		return 0, err
	}

	newPos, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	item.size, err = checkKarSize(newPos-offset, "compressed size of "+filename)
	if err != nil {
		return 0, err
	}

	item.decSize, err = checkKarSize(decSize, "size of "+filename)
	if err != nil {
		return 0, err
	}
	w.current.files[filename] = item

	return int64(item.size), nil
}

// Close writes the central index and closes the archive
func (w *KarWriter) Close() error {
	defer w.hdl.Close()

	if len(w.dirStack) != 1 {
		return eris.New("open directories left over")
	}

	items := int32(0)
	buffer := make([]byte, karEntrySize)
	tocPos, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	tocOffset, err := checkKarSize(tocPos, "index offset")
	if err != nil {
		return err
	}

	err = writeDirectoryEntries(w.root, w.hdl, &items, buffer)
	if err != nil {
		return err
	}

	_, err = w.hdl.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	header := make([]byte, karHeaderSize)
	copy(header, karMagic)
	binary.LittleEndian.PutUint32(header[4:8], karVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(tocOffset))
	binary.LittleEndian.PutUint32(header[12:16], uint32(items))

	_, err = w.hdl.Write(header)
	if err != nil {
		return err
	}

	return w.hdl.Close()
}

func sortedKeys[T any](items map[string]T) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

func writeEntry(hdl io.Writer, buffer []byte, name string, offset, size, decSize int32) error {
	binary.LittleEndian.PutUint32(buffer[:4], uint32(offset))
	binary.LittleEndian.PutUint32(buffer[4:8], uint32(size))
	binary.LittleEndian.PutUint32(buffer[8:12], uint32(decSize))
	binary.LittleEndian.PutUint16(buffer[12:14], uint16(len(name)))

	_, err := hdl.Write(buffer[:karEntrySize])
	if err != nil {
		return err
	}

	_, err = io.WriteString(hdl, name)
	return err
}

// writeDirectoryEntries writes the TOC in sorted order. Folders are entries without an offset
// which are followed by their content and a closing ".." entry.
func writeDirectoryEntries(folder *KarFolder, hdl io.Writer, items *int32, buffer []byte) error {
	for _, name := range sortedKeys(folder.folders) {
		err := writeEntry(hdl, buffer, name, 0, 0, 0)
		if err != nil {
			return err
		}

		err = writeDirectoryEntries(folder.folders[name], hdl, items, buffer)
		if err != nil {
			return err
		}

		err = writeEntry(hdl, buffer, "..", 0, 0, 0)
		if err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(folder.files) {
		file := folder.files[name]
		err := writeEntry(hdl, buffer, name, file.offset, file.size, file.decSize)
		if err != nil {
			return err
		}
	}

	*items += int32(len(folder.folders)*2 + len(folder.files))
	return nil
}

// PackDir recursively packs the content of dir into the archive out. The archive is written next
// to out first and only replaces out once it's complete.
func PackDir(ctx context.Context, dir build.Dir, out build.File) error {
	tmpOut, err := out.Parent().File("." + filepath.Base(out.Path()) + "." + nanoid.New() + ".tmp")
	if err != nil {
		return err
	}

	writer, err := NewKarWriter(tmpOut)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", out)
	}

	err = karWalkDirectory(ctx, writer, dir.Path())
	if err == nil {
		err = writer.Close()
		if err != nil {
			err = eris.Wrapf(err, "failed to finish %s", out)
		}
	} else {
		writer.hdl.Close()
	}

	if err == nil {
		err = os.Rename(tmpOut.Path(), out.Path())
		if err != nil {
			err = eris.Wrapf(err, "failed to replace %s", out)
		}
	}

	if err != nil {
		os.Remove(tmpOut.Path())
		return err
	}

	info, err := out.Stat()
	if err == nil {
		build.Log(ctx).Info().Str("path", out.Path()).Msgf("Packed %s (%s)", out, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

func karWalkDirectory(ctx context.Context, writer *KarWriter, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to read dir %s", dir)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		itemPath := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			err = writer.OpenDirectory(entry.Name())
			if err != nil {
				return err
			}

			err = karWalkDirectory(ctx, writer, itemPath)
			if err != nil {
				return err
			}

			err = writer.CloseDirectory()
			if err != nil {
				return err
			}
			continue
		}

		f, err := os.Open(itemPath)
		if err != nil {
			return eris.Wrapf(err, "failed to open file %s", itemPath)
		}

		size, err := writer.WriteFile(entry.Name(), f)
		f.Close()
		if err != nil {
			return eris.Wrapf(err, "failed to pack file %s", itemPath)
		}

		build.Log(ctx).Debug().Str("path", itemPath).Msgf("Packed %s (%s)", itemPath, humanize.Bytes(uint64(size)))
	}

	return nil
}

// KarEntry describes a file inside a .kar archive
type KarEntry struct {
	// Path uses forward slashes and is relative to the archive root
	Path    string
	Size    int64
	DecSize int64
	offset  int64
}

// KarReader gives access to the files inside a .kar archive
type KarReader struct {
	hdl     *os.File
	Entries []KarEntry
}

// OpenKar reads the index of the given archive
func OpenKar(archive build.File) (*KarReader, error) {
	hdl, err := archive.Open()
	if err != nil {
		return nil, err
	}

	entries, err := readKarIndex(hdl)
	if err != nil {
		hdl.Close()
		return nil, eris.Wrapf(err, "failed to read %s", archive)
	}

	return &KarReader{hdl: hdl, Entries: entries}, nil
}

func readKarIndex(hdl io.ReadSeeker) ([]KarEntry, error) {
	header := make([]byte, karHeaderSize)
	_, err := io.ReadFull(hdl, header)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read header")
	}

	if string(header[:4]) != karMagic {
		return nil, eris.New("not a kar archive")
	}

	version := binary.LittleEndian.Uint32(header[4:8])
	if version != karVersion {
		return nil, eris.Errorf("unsupported kar version %d", version)
	}

	tocOffset := int64(binary.LittleEndian.Uint32(header[8:12]))
	items := int(binary.LittleEndian.Uint32(header[12:16]))

	_, err = hdl.Seek(tocOffset, io.SeekStart)
	if err != nil {
		return nil, err
	}

	entries := []KarEntry{}
	dirStack := []string{}
	buffer := make([]byte, karEntrySize)
	for idx := 0; idx < items; idx++ {
		_, err = io.ReadFull(hdl, buffer)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read entry %d", idx)
		}

		name := make([]byte, binary.LittleEndian.Uint16(buffer[12:14]))
		_, err = io.ReadFull(hdl, name)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read entry %d", idx)
		}

		offset := int64(binary.LittleEndian.Uint32(buffer[:4]))
		if offset == 0 {
			if string(name) == ".." {
				if len(dirStack) == 0 {
					return nil, eris.Errorf("entry %d closes a directory which was never opened", idx)
				}
				dirStack = dirStack[:len(dirStack)-1]
			} else {
				dirStack = append(dirStack, string(name))
			}
			continue
		}

		entries = append(entries, KarEntry{
			Path:    path.Join(append(dirStack, string(name))...),
			Size:    int64(binary.LittleEndian.Uint32(buffer[4:8])),
			DecSize: int64(binary.LittleEndian.Uint32(buffer[8:12])),
			offset:  offset,
		})
	}

	return entries, nil
}

// ReadFile decompresses the file stored at the given path
func (r *KarReader) ReadFile(name string) ([]byte, error) {
	for _, entry := range r.Entries {
		if entry.Path != name {
			continue
		}

		reader := brotli.NewReader(io.NewSectionReader(r.hdl, entry.offset, entry.Size))
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decompress %s", name)
		}

		return data, nil
	}

	return nil, eris.Wrapf(os.ErrNotExist, "%s not found in archive", name)
}

// Close closes the archive
func (r *KarReader) Close() error {
	return r.hdl.Close()
}
