package manifest

import (
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/version"

	// Ensure SHA512 is available for checksum calculation.
	_ "crypto/sha512"
)

// Description contains metadata about a packaged release.
type Description struct {
	// Version is the semantic version of this release.
	Version string `yaml:"version"`
	// CreatedAt is the UTC time the archive was produced.
	CreatedAt time.Time `yaml:"created_at"`
	// Archive is the base name of the release archive.
	Archive string `yaml:"archive"`
	// ArchiveChecksum is the base64-encoded checksum of the archive file.
	ArchiveChecksum string `yaml:"archive_checksum"`
	// Files maps archive member paths to their base64-encoded checksums.
	Files map[string]string `yaml:"files"`
}

const (
	// DefaultChecksumFunction is used to calculate release file hashes.
	DefaultChecksumFunction crypto.Hash = crypto.SHA512

	// defaultMapCapacity is the default initial capacity for the file map.
	defaultMapCapacity = 16
)

var errHashUnavailable = errors.New("hash function unavailable")

// NewDescription produces a Description initialized with defaults.
func NewDescription() *Description {
	return &Description{
		Version:   version.Short(),
		CreatedAt: time.Now().UTC(),
		Files:     make(map[string]string, defaultMapCapacity),
	}
}

// Load reads a manifest from the provided path.
func Load(path string) (*Description, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var desc Description
	if err := yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &desc, nil
}

// Save writes the manifest to the provided path.
func Save(path string, desc *Description) error {
	contents, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), contents, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// GetFileChecksum returns checksum bytes for a file using DefaultChecksumFunction.
// Files are streamed so large archives do not load fully into memory.
func GetFileChecksum(path string) ([]byte, error) {
	if !DefaultChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := DefaultChecksumFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// EncodeChecksum renders checksum bytes the way the manifest stores them.
func EncodeChecksum(sum []byte) string {
	return base64.StdEncoding.EncodeToString(sum)
}

// DecodeChecksum parses a manifest checksum back into bytes.
func DecodeChecksum(encoded string) ([]byte, error) {
	sum, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", err)
	}

	return sum, nil
}
