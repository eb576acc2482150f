package utils

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrBadZipEntry = errors.New("zip entry escapes target dir")
)

// Unzip extracts an archive into dstDir, flattening nothing: the entry paths
// are kept relative to dstDir. Returns the extracted file paths.
func Unzip(zipFile, dstDir string) (files []string, err error) {
	zr, err := zip.OpenReader(zipFile)
	if err != nil {
		return
	}
	defer zr.Close()
	for _, f := range zr.File {
		target := filepath.Join(dstDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(os.PathSeparator)) {
			err = ErrBadZipEntry
			return
		}
		if f.FileInfo().IsDir() {
			if err = os.MkdirAll(target, os.ModePerm); err != nil {
				return
			}
			continue
		}
		if err = os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
			return
		}
		if err = extractZipFile(f, target); err != nil {
			return
		}
		files = append(files, target)
	}
	return
}

func extractZipFile(f *zip.File, target string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return
}
