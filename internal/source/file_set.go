package source

import (
	"fmt"
	"os"
	"path/filepath"

	"fortio.org/safecast"
)

// FileSet holds the guest programs seen by one engine. Ids are indexes in
// registration order; registering a name twice yields two files.
type FileSet struct {
	files   []File
	baseDir string // base for relative display paths
}

func NewFileSet() *FileSet {
	return &FileSet{}
}

// SetBaseDir sets the directory relative display paths are computed from.
func (fileSet *FileSet) SetBaseDir(dir string) {
	fileSet.baseDir = dir
}

// BaseDir returns the base directory, defaulting to the working directory.
func (fileSet *FileSet) BaseDir() string {
	if fileSet.baseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
	}
	return fileSet.baseDir
}

func (fileSet *FileSet) Len() int { return len(fileSet.files) }

// Add stores already-normalized content under path.
func (fileSet *FileSet) Add(path string, content []byte, flags FileFlags) FileID {
	n, err := safecast.Conv[uint32](len(fileSet.files))
	if err != nil {
		panic(fmt.Errorf("file set is full: %w", err))
	}
	if FileID(n) == NoFile {
		panic("file set is full")
	}
	fileSet.files = append(fileSet.files, File{
		ID:      FileID(n),
		Path:    normalizePath(path),
		Content: content,
		LineIdx: buildLineIndex(content),
		Flags:   flags,
	})
	return FileID(n)
}

// AddVirtual normalizes content read from anywhere but a path the user can
// open again (stdin, a request) and adds it with FileVirtual.
func (fileSet *FileSet) AddVirtual(name string, content []byte) (FileID, error) {
	normalized, flags, err := Normalize(content)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return fileSet.Add(name, normalized, flags|FileVirtual), nil
}

// Get returns the file for id, or nil for NoFile and unknown ids.
func (fileSet *FileSet) Get(id FileID) *File {
	if id == NoFile || uint64(id) >= uint64(len(fileSet.files)) {
		return nil
	}
	return &fileSet.files[id]
}

// Resolve converts a span into line and column positions. Spans of unknown
// files resolve to zero positions.
func (fileSet *FileSet) Resolve(span Span) (start, end LineCol) {
	f := fileSet.Get(span.File)
	if f == nil {
		return LineCol{}, LineCol{}
	}
	return toLineCol(f.LineIdx, span.Start), toLineCol(f.LineIdx, span.End)
}

func (f *File) size() uint32 {
	n, err := safecast.Conv[uint32](len(f.Content))
	if err != nil {
		panic(fmt.Errorf("content length overflow: %w", err))
	}
	return n
}

// lineBounds returns the byte range of line (1-based) without its newline.
func (f *File) lineBounds(line uint32) (start, end uint32, ok bool) {
	if line == 0 {
		return 0, 0, false
	}
	size := f.size()
	if line > 1 {
		if int(line-2) >= len(f.LineIdx) {
			return size, size, false
		}
		start = f.LineIdx[line-2] + 1
	}
	end = size
	if int(line-1) < len(f.LineIdx) {
		end = f.LineIdx[line-1]
	}
	return start, end, true
}

// GetLine returns line lineNum (1-based) without its newline, or "" when it
// does not exist.
func (f *File) GetLine(lineNum uint32) string {
	start, end, ok := f.lineBounds(lineNum)
	if !ok || start >= end {
		return ""
	}
	return string(f.Content[start:end])
}

// LineSpan covers the text of line (1-based). Unknown lines give an empty
// span at the end of the file; line 0 an empty span at its start.
func (f *File) LineSpan(line uint32) Span {
	start, end, _ := f.lineBounds(line)
	return Span{File: f.ID, Start: start, End: end}
}

// FormatPath formats the path for display.
// mode: "absolute", "relative", "basename", "auto"
func (f *File) FormatPath(mode, baseDir string) string {
	switch mode {
	case "absolute":
		if abs, err := AbsolutePath(f.Path); err == nil {
			return abs
		}
	case "relative":
		if baseDir == "" {
			if wd, err := os.Getwd(); err == nil {
				baseDir = wd
			}
		}
		if rel, err := RelativePath(f.Path, baseDir); err == nil {
			return rel
		}
	case "basename":
		return BaseName(f.Path)
	case "auto":
		// длинные абсолютные пути сокращаем до имени файла
		if len(f.Path) >= 40 && filepath.IsAbs(f.Path) {
			return BaseName(f.Path)
		}
	}
	return f.Path
}
