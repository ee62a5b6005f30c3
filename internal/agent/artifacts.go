package agent

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// RunDirLayout is the timestamp format of per-run output directories
const RunDirLayout = "20060102_150405"

// artifacts writes best-effort run output. A zero dir disables writing.
type artifacts struct {
	dir    string
	logger *zap.Logger
}

func createRunDir(base string, now time.Time) (string, error) {
	dir := filepath.Join(base, now.Format(RunDirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

func (a *artifacts) saveImage(name string, img image.Image) {
	if a.dir == "" || img == nil {
		return
	}
	path := filepath.Join(a.dir, name)
	if err := imaging.Save(img, path); err != nil {
		a.logger.Warn("failed to save artifact", zap.String("path", path), zap.Error(err))
		return
	}
	a.logger.Debug("saved artifact", zap.String("path", path))
}

func (a *artifacts) saveReport(r RunReport) {
	if a.dir == "" {
		return
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		a.logger.Warn("failed to encode run report", zap.Error(err))
		return
	}
	path := filepath.Join(a.dir, "history.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		a.logger.Warn("failed to save run report", zap.String("path", path), zap.Error(err))
	}
}

func stepArtifact(step int, kind string) string {
	return fmt.Sprintf("step_%d_%s.png", step, kind)
}
