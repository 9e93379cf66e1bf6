// Package archive provides the tar.gz plumbing shared by backup and restore.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TarDir creates a tar gz archive from a directory
func TarDir(writer io.Writer, dir string) error {
	// create gzip compressed tar writer
	gzipWriter := gzip.NewWriter(writer)
	defer gzipWriter.Close()
	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	return filepath.Walk(dir, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// handle symlinks
		var symLinkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			symLinkTarget, err = os.Readlink(file)
			if err != nil {
				return fmt.Errorf("failed to get symlink target of %s: %w", file, err)
			}
		}

		// generate tar header
		header, err := tar.FileInfoHeader(info, symLinkTarget)
		if err != nil {
			return err
		}

		// make file path relative
		fileRel, err := filepath.Rel(dir, file)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		header.Name = filepath.ToSlash(fileRel)

		// write tar file entry header
		err = tarWriter.WriteHeader(header)
		if err != nil {
			return err
		}

		// add content of files
		if info.Mode().IsRegular() {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()

			_, err = io.Copy(tarWriter, f)
			if err != nil {
				return fmt.Errorf("failed add %s to archive: %w", file, err)
			}
		}
		return nil
	})
}

// TarDirAs archives dir into a tar.gz file at path, storing all entries
// below a top level directory called name.
func TarDirAs(path, dir, name string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	defer file.Close()

	gzipWriter := gzip.NewWriter(file)
	defer gzipWriter.Close()
	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	err = filepath.Walk(dir, func(entry string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, entry)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		header.Name = filepath.ToSlash(filepath.Join(name, rel))

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(entry)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", entry, err)
			}
			defer f.Close()

			if _, err := io.Copy(tarWriter, f); err != nil {
				return fmt.Errorf("failed add %s to archive: %w", entry, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	return file.Close()
}

// TarDirToFile archives dir into a tar.gz file at path.
func TarDirToFile(path, dir string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	defer file.Close()

	if err := TarDir(file, dir); err != nil {
		return err
	}
	return file.Close()
}

// ExtractDir unpacks a tar gz archive into dest. Entries escaping dest are
// rejected.
func ExtractDir(reader io.Reader, dest string) error {
	gzipReader, err := gzip.NewReader(reader)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(header.Name))
		rel, err := filepath.Rel(dest, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive entry %s escapes destination", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, header.FileInfo().Mode()); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}

		case tar.TypeSymlink:
			// the link target must stay inside dest as well
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("archive symlink %s targets absolute path %s", header.Name, header.Linkname)
			}
			resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(header.Linkname))
			if rel, err := filepath.Rel(dest, resolved); err != nil || strings.HasPrefix(rel, "..") {
				return fmt.Errorf("archive symlink %s escapes destination", header.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
				return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
				return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, header.FileInfo().Mode())
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			if _, err := io.Copy(f, tarReader); err != nil {
				f.Close()
				return fmt.Errorf("failed to extract %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", target, err)
			}
		}
	}
}

// ExtractFile unpacks the tar.gz file at path into dest.
func ExtractFile(path, dest string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer file.Close()

	return ExtractDir(file, dest)
}

// SingleDir returns the path of the only directory inside dir. Backup
// archives carry exactly one top level directory; anything else is a
// malformed archive.
func SingleDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) != 1 {
		return "", fmt.Errorf("expected exactly one directory, found %d", len(dirs))
	}
	return filepath.Join(dir, dirs[0]), nil
}
