package packager

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	errStagingInsideRoot  = errors.New("staging directory resolves inside the source tree")
	errArchiveInsideRoot  = errors.New("archive output resolves inside the staging directory")
	errNothingToPackage   = errors.New("no files left to package after exclusions")
	errArchiveBuildFailed = errors.New("archive build failed after retry")
)

// stageTree copies the filtered source tree into a fresh staging directory.
// The staging copy is immutable once created, so later compression never
// races with edits to the live tree. Returned member paths are relative,
// slash-separated and sorted.
func stageTree(root string, exclusions *ExclusionSet, skipAbs map[string]struct{}) (string, []string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("resolve root: %w", err)
	}

	stagingDir, err := os.MkdirTemp("", "fashionrec-packager-")
	if err != nil {
		return "", nil, fmt.Errorf("create staging directory: %w", err)
	}

	if isWithin(rootAbs, stagingDir) {
		_ = os.RemoveAll(stagingDir)
		return "", nil, errStagingInsideRoot
	}

	var members []string

	walkErr := filepath.WalkDir(rootAbs, func(currentPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if currentPath == rootAbs {
			return nil
		}

		relPath, err := filepath.Rel(rootAbs, currentPath)
		if err != nil {
			return err
		}

		relSlash := filepath.ToSlash(relPath)

		if entry.IsDir() {
			if exclusions.Match(relSlash) {
				return fs.SkipDir
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}

			return os.MkdirAll(filepath.Join(stagingDir, relPath), info.Mode().Perm())
		}

		// Only regular files are deployable; sockets, devices and symlinks
		// pointing outside the tree have no place in a release archive.
		if !entry.Type().IsRegular() {
			return nil
		}

		if exclusions.Match(relSlash) {
			return nil
		}

		if _, skip := skipAbs[currentPath]; skip {
			return nil
		}

		if err := copyFile(currentPath, filepath.Join(stagingDir, relPath)); err != nil {
			return err
		}

		members = append(members, relSlash)

		return nil
	})

	if walkErr != nil {
		_ = os.RemoveAll(stagingDir)
		return "", nil, fmt.Errorf("stage source tree: %w", walkErr)
	}

	if len(members) == 0 {
		_ = os.RemoveAll(stagingDir)
		return "", nil, errNothingToPackage
	}

	sort.Strings(members)

	return stagingDir, members, nil
}

// buildArchive compresses the staging directory into a tar.gz at outputPath.
// On error the partial output is removed so no truncated archive survives.
func buildArchive(stagingDir, outputPath string) (err error) {
	outputAbs, err := filepath.Abs(outputPath)
	if err != nil {
		return fmt.Errorf("resolve output: %w", err)
	}

	if isWithin(stagingDir, outputAbs) {
		return errArchiveInsideRoot
	}

	outputFile, err := os.Create(outputAbs)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	defer func() {
		if closeErr := outputFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}

		if err != nil {
			_ = os.Remove(outputAbs)
		}
	}()

	gzipWriter := gzip.NewWriter(outputFile)
	tarWriter := tar.NewWriter(gzipWriter)

	err = filepath.WalkDir(stagingDir, func(currentPath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if currentPath == stagingDir {
			return nil
		}

		relPath, relErr := filepath.Rel(stagingDir, currentPath)
		if relErr != nil {
			return relErr
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return infoErr
		}

		header, headerErr := tar.FileInfoHeader(info, "")
		if headerErr != nil {
			return headerErr
		}

		header.Name = filepath.ToSlash(relPath)
		if entry.IsDir() {
			header.Name += "/"
		}

		if writeErr := tarWriter.WriteHeader(header); writeErr != nil {
			return writeErr
		}

		if entry.IsDir() {
			return nil
		}

		file, openErr := os.Open(currentPath)
		if openErr != nil {
			return openErr
		}

		_, copyErr := io.Copy(tarWriter, file)
		_ = file.Close()

		return copyErr
	})

	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	if err = tarWriter.Close(); err != nil {
		return fmt.Errorf("finalize tar stream: %w", err)
	}

	if err = gzipWriter.Close(); err != nil {
		return fmt.Errorf("finalize gzip stream: %w", err)
	}

	return nil
}

// ListArchiveMembers returns the sorted member paths of a tar.gz archive.
func ListArchiveMembers(archivePath string) ([]string, error) {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("read gzip stream: %w", err)
	}

	tarReader := tar.NewReader(gzipReader)

	var members []string

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar stream: %w", err)
		}

		if header.Typeflag == tar.TypeReg {
			members = append(members, header.Name)
		}
	}

	sort.Strings(members)

	return members, nil
}

// copyFile duplicates a regular file preserving its permission bits.
func copyFile(sourcePath, destinationPath string) error {
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	destination, err := os.OpenFile(
		destinationPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(destination, source); err != nil {
		_ = destination.Close()
		return err
	}

	return destination.Close()
}

// isWithin reports whether childPath is parentPath or nested under it.
func isWithin(parentPath, childPath string) bool {
	relPath, err := filepath.Rel(parentPath, childPath)
	if err != nil {
		return false
	}

	return relPath == "." || (relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator)))
}
