package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

// writeArchive writes a ZIP archive of the files names in dir to w, in order,
// and returns the number of bytes written.
func writeArchive(w io.Writer, dir string, names []string) (int64, error) {
	cw := &countingWriter{w: w}
	z := archiver.NewZip()
	if err := z.Create(cw); err != nil {
		return cw.n, err
	}
	for _, name := range names {
		if err := addArchiveFile(z, filepath.Join(dir, name), name); err != nil {
			z.Close()
			return cw.n, fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := z.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

func addArchiveFile(z *archiver.Zip, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	return z.Write(archiver.File{
		FileInfo: archiver.FileInfo{
			FileInfo:   info,
			CustomName: name,
		},
		ReadCloser: file,
	})
}
