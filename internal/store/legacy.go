package store

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ImportLegacy walks a legacy flat-file results directory
// (results/<model>/app<N>/<type>/<file>.json) and imports each document
// into the store, bounded by limit. Per-file failures are logged and
// skipped; the import never fails as a whole. Returns the number of files
// imported.
func (s *ResultStore) ImportLegacy(ctx context.Context, dir string, limit int, deleteSource bool) (int, error) {
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "stat legacy results dir %s", dir)
	}

	imported := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Warnw("skipping unreadable legacy entry", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || d.Name() == "manifest.json" {
			return nil
		}
		if limit > 0 && imported >= limit {
			return fs.SkipAll
		}

		if err := s.importLegacyFile(ctx, dir, path); err != nil {
			s.log.Warnw("failed to import legacy result, skipping", "path", path, "error", err)
			return nil
		}
		imported++

		if deleteSource {
			if err := os.Remove(path); err != nil {
				s.log.Warnw("failed to delete imported legacy file", "path", path, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return imported, errors.Wrap(err, "walking legacy results dir")
	}

	if imported > 0 {
		s.log.Infow("legacy results imported", "count", imported, "dir", dir)
	}
	return imported, nil
}

func (s *ResultStore) importLegacyFile(ctx context.Context, root, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading file")
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, "parsing document")
	}

	meta, _ := doc["metadata"].(map[string]any)
	if meta == nil {
		return errors.New("document has no metadata block")
	}
	modelSlug, _ := meta["model_slug"].(string)
	if modelSlug == "" {
		return errors.New("metadata.model_slug missing")
	}
	appNumber := 0
	if n, ok := meta["app_number"].(float64); ok {
		appNumber = int(n)
	}
	analysisType, _ := meta["analysis_type"].(string)
	if analysisType == "" {
		analysisType = "analysis"
	}

	// the path relative to the import root is the explicit record key, so
	// same-named files under different app directories stay distinct
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	key := sanitizeToolName(strings.TrimSuffix(filepath.ToSlash(rel), ".json"))
	key = SafeModelSlug(modelSlug) + "_legacy_" + key

	_, err = s.SaveWithKey(ctx, key, modelSlug, appNumber, doc, analysisType)
	return err
}
