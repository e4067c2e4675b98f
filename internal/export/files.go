package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"caedrepo/internal/forms"

	"github.com/klauspost/compress/zip"
)

// PollPrefix drops the last "_" delimited token of the file name returned
// by an export request, history entries of the same job share the rest. A
// name without "_" is its own prefix.
func PollPrefix(fileName string) string {
	idx := strings.LastIndex(fileName, "_")
	if idx <= 0 {
		return fileName
	}
	return fileName[:idx]
}

// FileLabel turns a form label into the suffix of the exported files:
// upper cased, without the FORM_ prefix and the trailing subprogram.
func FileLabel(label, subprogram string) string {
	out := strings.ToUpper(label)
	out = strings.TrimPrefix(out, "FORM_")
	if subprogram != "" {
		out = strings.TrimSuffix(out, "_"+strings.ToUpper(subprogram))
	}
	return out
}

// ZipName is the name the downloaded archive is saved under.
func ZipName(available, label, subprogram, formCode string) string {
	if forms.UsesCodeInFileName(formCode) {
		return fmt.Sprintf("%s_%s.zip", available, formCode)
	}
	return fmt.Sprintf("%s_%s.zip", available, FileLabel(label, subprogram))
}

// CsvName is the name the extracted csv is renamed to.
func CsvName(zipName string) string {
	return strings.TrimSuffix(zipName, ".zip") + ".csv"
}

// extract writes every file of the archive below dir. Entries escaping dir
// are rejected. The names written so far are returned with any error.
func extract(data []byte, dir string) ([]string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ArchiveError{Reason: "corrupt archive", Err: err}
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, &FileSystemError{Op: "resolve", Path: dir, Err: err}
	}

	var names []string
	for _, f := range reader.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return names, &ArchiveError{Reason: fmt.Sprintf("entry %q escapes the destination", f.Name)}
		}
		if f.FileInfo().IsDir() {
			err := os.MkdirAll(target, 0o755)
			if err != nil {
				return names, &FileSystemError{Op: "mkdir", Path: target, Err: err}
			}
			continue
		}
		err := extractFile(f, target)
		if err != nil {
			return names, err
		}
		names = append(names, f.Name)
	}
	return names, nil
}

func extractFile(f *zip.File, target string) error {
	err := os.MkdirAll(filepath.Dir(target), 0o755)
	if err != nil {
		return &FileSystemError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}

	src, err := f.Open()
	if err != nil {
		return &ArchiveError{Reason: fmt.Sprintf("open entry %s", f.Name), Err: err}
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return &FileSystemError{Op: "create", Path: target, Err: err}
	}
	_, err = io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return &ArchiveError{Reason: fmt.Sprintf("read entry %s", f.Name), Err: err}
	}
	err = dst.Close()
	if err != nil {
		return &FileSystemError{Op: "write", Path: target, Err: err}
	}
	return nil
}
