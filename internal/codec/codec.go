// Package codec implements the streaming directory-tree wire format
// shared by the local cache's entry blobs and the remote cache's HTTP
// bodies: a flat sequence of file/dir/end records that both encode and
// decode entirely in bounded memory, so the same bytes mean the same
// tree whether they came off disk or off a socket.
//
// Grounded on backend/internal/core/scan/scan.go's deterministic,
// sorted filepath.WalkDir (pre-order, lexicographic within a
// directory) and internal/core/hash.Hasher.Reader's io.CopyBuffer
// streaming discipline.
package codec

import (
	"bufio"
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"btdt/internal/cacheerr"
)

// RecordKind tags each record in the stream.
type RecordKind byte

const (
	KindFile RecordKind = 0x01
	KindDir  RecordKind = 0x02
	KindEnd  RecordKind = 0x03
)

// DefaultBufferSize is the streaming buffer size used by Encode and
// Decode: it must not need to grow with input, regardless of tree or
// file size.
const DefaultBufferSize = 64 << 10

// Encode walks root and writes its tree as a stream of records to w,
// terminated by a single end record. Directories are pre-order;
// entries within a directory are lexicographically sorted. Symlinks
// and other non-regular files are rejected with cacheerr.Protocol
// rather than followed.
func Encode(w io.Writer, root string) error {
	bw := bufio.NewWriterSize(w, DefaultBufferSize)
	buf := make([]byte, DefaultBufferSize)

	err := walkSorted(root, "", func(relPath string, fi fs.FileInfo, fullPath string) error {
		if fi.IsDir() {
			return writeHeader(bw, KindDir, fi.Mode().Perm(), relPath)
		}
		if !fi.Mode().IsRegular() {
			return cacheerr.WithPath(cacheerr.Protocol, "non-regular file rejected by stream codec", relPath, nil)
		}
		if err := writeHeader(bw, KindFile, fi.Mode().Perm(), relPath); err != nil {
			return err
		}
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], uint64(fi.Size()))
		if _, err := bw.Write(sizeBuf[:]); err != nil {
			return cacheerr.Wrap(cacheerr.IO, "write size", err)
		}
		f, err := os.Open(fullPath)
		if err != nil {
			return cacheerr.WithPath(cacheerr.IO, "open source file", fullPath, err)
		}
		defer f.Close()
		n, err := io.CopyBuffer(bw, f, buf)
		if err != nil {
			return cacheerr.WithPath(cacheerr.IO, "copy file bytes", fullPath, err)
		}
		if n != fi.Size() {
			return cacheerr.WithPath(cacheerr.IO, "file size changed during encode", fullPath, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := bw.Write([]byte{byte(KindEnd)}); err != nil {
		return cacheerr.Wrap(cacheerr.IO, "write end record", err)
	}
	if err := bw.Flush(); err != nil {
		return cacheerr.Wrap(cacheerr.IO, "flush stream", err)
	}
	return nil
}

func writeHeader(w io.Writer, kind RecordKind, mode os.FileMode, path string) error {
	var hdr [1 + 4 + 4]byte
	hdr[0] = byte(kind)
	binary.BigEndian.PutUint32(hdr[1:5], uint32(mode))
	pathBytes := []byte(path)
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(pathBytes)))
	if _, err := w.Write(hdr[:]); err != nil {
		return cacheerr.Wrap(cacheerr.IO, "write record header", err)
	}
	if _, err := w.Write(pathBytes); err != nil {
		return cacheerr.Wrap(cacheerr.IO, "write record path", err)
	}
	return nil
}

// walkSorted visits root in pre-order, lexicographic-within-directory
// order. Unlike filepath.WalkDir (which is already lexicographic per
// directory), this recurses
// manually so symlinks can be rejected without WalkDir's built-in
// symlink-following ambiguity.
func walkSorted(root, relPrefix string, visit func(relPath string, fi fs.FileInfo, fullPath string) error) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return cacheerr.WithPath(cacheerr.IO, "read directory", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		full := filepath.Join(root, e.Name())
		rel := e.Name()
		if relPrefix != "" {
			rel = relPrefix + "/" + e.Name()
		}

		info, err := os.Lstat(full)
		if err != nil {
			return cacheerr.WithPath(cacheerr.IO, "lstat", full, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return cacheerr.WithPath(cacheerr.Protocol, "symlinks are rejected by stream codec", rel, nil)
		}

		if err := visit(rel, info, full); err != nil {
			return err
		}
		if info.IsDir() {
			if err := walkSorted(full, rel, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Decode reads a stream written by Encode and reconstructs it under
// destRoot. It validates record ordering, path safety, and declared
// byte counts as it streams, never buffering a whole file; a
// truncated stream fails before any file is considered finished.
func Decode(r io.Reader, destRoot string) error {
	br := bufio.NewReaderSize(r, DefaultBufferSize)
	buf := make([]byte, DefaultBufferSize)

	var lastInDir = map[string]string{}

	for {
		kindByte, err := br.ReadByte()
		if err != nil {
			return cacheerr.Wrap(cacheerr.Protocol, "read record kind (truncated stream?)", err)
		}
		kind := RecordKind(kindByte)
		if kind == KindEnd {
			return nil
		}
		if kind != KindFile && kind != KindDir {
			return cacheerr.New(cacheerr.Protocol, "unknown record kind")
		}

		modeBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, modeBuf); err != nil {
			return cacheerr.Wrap(cacheerr.Protocol, "read mode (truncated stream)", err)
		}
		mode := os.FileMode(binary.BigEndian.Uint32(modeBuf))

		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return cacheerr.Wrap(cacheerr.Protocol, "read path length (truncated stream)", err)
		}
		pathLen := binary.BigEndian.Uint32(lenBuf)

		pathBytes := make([]byte, pathLen)
		if _, err := io.ReadFull(br, pathBytes); err != nil {
			return cacheerr.Wrap(cacheerr.Protocol, "read path (truncated stream)", err)
		}
		path := string(pathBytes)

		if err := validatePath(path); err != nil {
			return err
		}
		parent := parentOf(path)
		if prev, ok := lastInDir[parent]; ok && path <= prev {
			return cacheerr.New(cacheerr.Protocol, "records not strictly increasing within parent: "+path)
		}
		lastInDir[parent] = path

		full := filepath.Join(destRoot, filepath.FromSlash(path))

		if kind == KindDir {
			if err := os.MkdirAll(full, 0o755); err != nil {
				return cacheerr.WithPath(cacheerr.IO, "create directory", path, err)
			}
			if err := os.Chmod(full, mode.Perm()); err != nil {
				return cacheerr.WithPath(cacheerr.IO, "chmod directory", path, err)
			}
			continue
		}

		sizeBuf := make([]byte, 8)
		if _, err := io.ReadFull(br, sizeBuf); err != nil {
			return cacheerr.Wrap(cacheerr.Protocol, "read file size (truncated stream)", err)
		}
		size := binary.BigEndian.Uint64(sizeBuf)

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return cacheerr.WithPath(cacheerr.IO, "create parent directory", path, err)
		}
		f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			return cacheerr.WithPath(cacheerr.IO, "create destination file", path, err)
		}
		n, err := io.CopyBuffer(f, io.LimitReader(br, int64(size)), buf)
		if err != nil {
			f.Close()
			return cacheerr.WithPath(cacheerr.IO, "write destination file", path, err)
		}
		if cerr := f.Close(); cerr != nil {
			return cacheerr.WithPath(cacheerr.IO, "close destination file", path, cerr)
		}
		if uint64(n) != size {
			return cacheerr.WithPath(cacheerr.Protocol, "truncated file body (stream ended early)", path, nil)
		}
		// OpenFile's mode argument is masked by umask, so the file
		// doesn't necessarily end up with the recorded mode; chmod it
		// explicitly, as already done for directories above.
		if err := os.Chmod(full, mode.Perm()); err != nil {
			return cacheerr.WithPath(cacheerr.IO, "chmod destination file", path, err)
		}
	}
}

func parentOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// validatePath rejects anything that could escape destRoot or is
// malformed: absolute paths, "." / ".." components, empty path.
func validatePath(path string) error {
	if path == "" {
		return cacheerr.New(cacheerr.Protocol, "empty path in record")
	}
	if strings.HasPrefix(path, "/") {
		return cacheerr.New(cacheerr.Protocol, "absolute path in record: "+path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return cacheerr.New(cacheerr.Protocol, "empty path segment in record: "+path)
		}
		if seg == "." || seg == ".." {
			return cacheerr.New(cacheerr.Protocol, "path traversal segment in record: "+path)
		}
	}
	return nil
}
