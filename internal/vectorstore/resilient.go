package vectorstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// chromem stores each collection in a directory named by an 8-char hash prefix.
var collectionHashPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// quarantineDir holds collections moved aside by NewResilientChromemDB.
const quarantineDir = ".quarantine"

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// NewResilientChromemDB opens a persistent chromem DB. A collection directory
// that holds documents but lost its metadata file would otherwise prevent the
// whole DB from loading; such directories are moved to .quarantine and the
// load is retried once.
func NewResilientChromemDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}

	// chromem reports this condition only through the message text.
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path, logger)
	if findErr != nil {
		logger.Error("failed to scan for corrupt collections", zap.Error(findErr))
		return nil, err
	}
	if len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, quarantineDir)
	if mkErr := os.MkdirAll(quarantine, 0o750); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}

	moved := 0
	for _, hash := range corrupt {
		if !collectionHashPattern.MatchString(hash) {
			logger.Error("skipping collection with unexpected directory name", zap.String("hash", hash))
			continue
		}
		src := filepath.Join(path, hash)
		dst := filepath.Join(quarantine, hash)
		if mvErr := os.Rename(src, dst); mvErr != nil {
			logger.Error("failed to quarantine collection", zap.String("hash", hash), zap.Error(mvErr))
			continue
		}
		logger.Warn("quarantined corrupt collection", zap.String("hash", hash), zap.String("to", dst))
		moved++
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("loading chromem DB after quarantine: %w", err)
	}
	logger.Info("chromem DB loaded after quarantine", zap.Int("quarantined", moved))
	return db, nil
}

// findCorruptCollections lists collection directories that contain .gob
// documents but no 00000000.gob metadata file.
func findCorruptCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !errors.Is(err, fs.ErrNotExist) {
			continue
		}

		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read collection directory", zap.String("hash", entry.Name()), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}
