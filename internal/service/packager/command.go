package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/logger"
	"github.com/fashionrec/fashionrec-deploy/internal/manifest"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to the settings file.
	ConfigPath string
	// RootDir is the project root to package (defaults to the working directory).
	RootDir string
	// OutputPath overrides the configured archive output location.
	OutputPath string
}

// packager produces one deployable snapshot of the source tree.
// It is unexported—callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg holds deployment settings, including extra exclusion patterns.
	cfg *config.Config
	// root is the absolute source tree root.
	root string
	// archivePath is where the compressed archive is written.
	archivePath string
	// manifestPath is where the release manifest is written.
	manifestPath string
	// exclusions is the compiled exclusion set.
	exclusions *ExclusionSet
	// desc is the release manifest being assembled.
	desc *manifest.Description
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "fashionrec-packager")

	pkg, err := newPackager(opts)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	if err = pkg.Run(ctx); err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return nil
}

// newPackager resolves configuration and paths for a single packaging run.
func newPackager(opts *Options) (*packager, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		// Packaging works without a settings file; deploy-time fields are
		// validated later by the deployer.
		cfg = new(config.Config)
		config.ApplyDefaults(cfg)
	}

	root := opts.RootDir
	if root == "" {
		root = "."
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	if info, err := os.Stat(rootAbs); err != nil {
		return nil, fmt.Errorf("source tree: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("source tree %s is not a directory", rootAbs)
	}

	archivePath := cfg.ArchivePath
	if opts.OutputPath != "" {
		archivePath = opts.OutputPath
	}

	patterns := DefaultExclusions()
	patterns = append(patterns, cfg.ExtraExclusions...)
	// Tool artifacts never belong to a release, whatever their names are.
	patterns = append(patterns,
		config.DefaultConfigFilename,
		config.DefaultManifestFilename,
		config.DefaultHistoryFilename)

	return &packager{
		cfg:          cfg,
		root:         rootAbs,
		archivePath:  archivePath,
		manifestPath: cfg.ManifestPath,
		exclusions:   NewExclusionSet(patterns...),
		desc:         manifest.NewDescription(),
	}, nil
}

// Run stages the filtered tree, compresses it and writes the release manifest.
func (p *packager) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Staging deployable file set",
		"root", p.root, "exclusions", strings.Join(p.exclusions.Patterns(), " "))

	skipAbs, err := p.outputPathSet()
	if err != nil {
		return err
	}

	stagingDir, members, err := stageTree(p.root, p.exclusions, skipAbs)
	if err != nil {
		return err
	}

	// Staging is always removed, success or not.
	defer func() {
		_ = os.RemoveAll(stagingDir)
	}()

	logger.InfoKV(ctx, "Compressing release archive",
		"files", len(members), "path", p.archivePath)

	if err = p.buildWithRetry(ctx, stagingDir); err != nil {
		return err
	}

	if err = p.fillDescription(stagingDir, members); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Saving release manifest", "path", p.manifestPath)

	if err = manifest.Save(p.manifestPath, p.desc); err != nil {
		return err
	}

	p.printNextSteps(ctx)

	return nil
}

// buildWithRetry compresses the staging copy, retrying once on failure.
// The staging copy is immutable, so a second attempt cannot hit the
// changed-while-reading races a live tree is subject to; a repeat failure
// means the environment itself is broken.
func (p *packager) buildWithRetry(ctx context.Context, stagingDir string) error {
	firstErr := buildArchive(stagingDir, p.archivePath)
	if firstErr == nil {
		return nil
	}

	logger.WarnKV(ctx, "Archive build failed, retrying from staging copy", "error", firstErr)

	if retryErr := buildArchive(stagingDir, p.archivePath); retryErr != nil {
		return fmt.Errorf("%w: %w", errArchiveBuildFailed, retryErr)
	}

	return nil
}

// fillDescription records member checksums and the archive checksum.
// Checksums are taken from the staged copies so the manifest always matches
// the archived bytes even if the live tree moved on.
func (p *packager) fillDescription(stagingDir string, members []string) error {
	for _, member := range members {
		checksum, err := manifest.GetFileChecksum(filepath.Join(stagingDir, filepath.FromSlash(member)))
		if err != nil {
			return err
		}

		p.desc.Files[member] = manifest.EncodeChecksum(checksum)
	}

	archiveChecksum, err := manifest.GetFileChecksum(p.archivePath)
	if err != nil {
		return err
	}

	p.desc.Archive = filepath.Base(p.archivePath)
	p.desc.ArchiveChecksum = manifest.EncodeChecksum(archiveChecksum)

	return nil
}

// outputPathSet returns the absolute paths the walk must never pick up,
// so an archive is never nested inside itself on repeated runs.
func (p *packager) outputPathSet() (map[string]struct{}, error) {
	skipAbs := make(map[string]struct{}, 2)

	for _, outputPath := range []string{p.archivePath, p.manifestPath} {
		absPath, err := filepath.Abs(outputPath)
		if err != nil {
			return nil, fmt.Errorf("resolve output path: %w", err)
		}

		skipAbs[absPath] = struct{}{}
	}

	return skipAbs, nil
}

// printNextSteps logs human-readable guidance for the produced artifacts.
func (p *packager) printNextSteps(ctx context.Context) {
	files := make([]string, 0, len(p.desc.Files))
	for fileName := range p.desc.Files {
		files = append(files, fileName)
	}

	sort.Strings(files)

	var builder strings.Builder

	builder.WriteString("Release ")
	builder.WriteString(p.desc.Version)
	builder.WriteString(" packaged into ")
	builder.WriteString(p.archivePath)
	builder.WriteString(" with manifest ")
	builder.WriteString(p.manifestPath)
	builder.WriteString(".\nArchive members:\n")

	for i, name := range files {
		if i == 0 {
			builder.WriteString(name)
		} else {
			builder.WriteString(",\n")
			builder.WriteString(name)
		}
	}

	builder.WriteString("\n\nTo roll it out, run: fashionrec-deployer ")
	builder.WriteString(p.archivePath)

	logger.Info(ctx, builder.String())
}
