package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/repo"
)

// Artifact is one persisted patch for one file.
type Artifact struct {
	RunID         string    `json:"run_id"`
	OriginalFile  string    `json:"original_file"`
	PatchedCode   string    `json:"patched_code"`
	Strategy      string    `json:"strategy"`
	Diff          string    `json:"diff,omitempty"`
	Added         int       `json:"added"`
	Deleted       int       `json:"deleted"`
	TestSuccess   *bool     `json:"test_success,omitempty"`
	TestOutput    string    `json:"test_output,omitempty"`
	SavedPath     string    `json:"saved_path,omitempty"`
	AppliedToRepo bool      `json:"applied_to_repo"`
	CreatedAt     time.Time `json:"created_at"`
}

// Artifacts builds one artifact per matched file of an outcome. Miss
// outcomes produce none.
func Artifacts(original []model.ChangedFile, out *Outcome) ([]*Artifact, error) {
	if out == nil || out.Miss {
		return nil, nil
	}
	runID := uuid.NewString()
	now := time.Now()

	byName := make(map[string]model.ChangedFile, len(original))
	for _, f := range original {
		byName[f.Filename] = f
	}

	var arts []*Artifact
	for _, name := range out.Matched {
		diff, err := repo.UnifiedDiff(name, byName[name].Content, out.Code)
		if err != nil {
			return nil, err
		}
		a := &Artifact{
			RunID:        runID,
			OriginalFile: name,
			PatchedCode:  out.Code,
			Strategy:     out.Selection.ChosenLabel,
			Diff:         diff,
			CreatedAt:    now,
		}
		if diff != "" {
			ds, err := repo.Parse(diff)
			if err != nil {
				return nil, fmt.Errorf("reading back diff for %s: %w", name, err)
			}
			_, a.Added, a.Deleted = ds.Stats()
		}
		arts = append(arts, a)
	}
	return arts, nil
}

// Store writes artifacts as JSON documents under Dir.
type Store struct {
	Dir string
	Log *zap.Logger
	// Now is overridable in tests.
	Now func() time.Time
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Dir: dir, Log: log, Now: time.Now}
}

// Save writes a as <dir>/<base>_<YYYYmmdd_HHMMSS>.patch, where base is the
// original file name without its extension, and records the path on a.
// Existing files are never overwritten: a taken name gets a _2, _3, ...
// suffix, so util.c and util.h saved in the same second stay separate.
func (s *Store) Save(a *Artifact) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating patch dir: %w", err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	base := filepath.Base(a.OriginalFile)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	f, path, err := createUnique(s.Dir, fmt.Sprintf("%s_%s", base, now().Format("20060102_150405")))
	if err != nil {
		return "", fmt.Errorf("writing patch: %w", err)
	}
	a.SavedPath = path

	data, err := json.MarshalIndent(a, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		a.SavedPath = ""
		return "", fmt.Errorf("writing patch: %w", err)
	}
	if s.Log != nil {
		s.Log.Info("saved patch", zap.String("file", a.OriginalFile), zap.String("path", path))
	}
	return path, nil
}

// createUnique creates <dir>/<stem>.patch, or the first free
// <dir>/<stem>_N.patch when that name is taken.
func createUnique(dir, stem string) (*os.File, string, error) {
	for n := 1; ; n++ {
		name := stem + ".patch"
		if n > 1 {
			name = fmt.Sprintf("%s_%d.patch", stem, n)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
}

// Load reads an artifact written by Save.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patch: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding patch %s: %w", path, err)
	}
	return &a, nil
}

// Update rewrites a in place at its SavedPath, e.g. after a later Apply or
// TestPatch changed its status.
func Update(a *Artifact) error {
	if a.SavedPath == "" {
		return errors.New("update: artifact was never saved")
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	if err := os.WriteFile(a.SavedPath, data, 0o644); err != nil {
		return fmt.Errorf("writing patch: %w", err)
	}
	return nil
}

// Apply writes the patched code over the original file in repoDir. The
// previous content is kept at <file>.bak and restored if the write fails.
func Apply(repoDir string, a *Artifact) error {
	if repoDir == "" {
		return errors.New("apply: no repository path")
	}
	target := filepath.Join(repoDir, filepath.FromSlash(a.OriginalFile))
	rel, err := filepath.Rel(repoDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("apply: %s escapes the repository", a.OriginalFile)
	}

	orig, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	backup := target + ".bak"
	if err := os.WriteFile(backup, orig, info.Mode().Perm()); err != nil {
		return fmt.Errorf("apply: writing backup: %w", err)
	}
	if err := os.WriteFile(target, []byte(a.PatchedCode), info.Mode().Perm()); err != nil {
		if rerr := os.WriteFile(target, orig, info.Mode().Perm()); rerr != nil {
			return fmt.Errorf("apply: %w (restore failed: %v)", err, rerr)
		}
		return fmt.Errorf("apply: %w", err)
	}
	a.AppliedToRepo = true
	return nil
}

// TestPatch writes the patched code into a scratch directory under the
// original file's base name and runs command there through the shell. The
// result and combined output are recorded on a.
func TestPatch(ctx context.Context, a *Artifact, command string) (bool, string, error) {
	dir, err := os.MkdirTemp("", "mistborn-test-")
	if err != nil {
		return false, "", fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := filepath.Join(dir, filepath.Base(a.OriginalFile))
	if err := os.WriteFile(name, []byte(a.PatchedCode), 0o644); err != nil {
		return false, "", fmt.Errorf("writing patched file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()

	ok := runErr == nil
	out := buf.String()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			out += runErr.Error()
		}
	}
	a.TestSuccess = &ok
	a.TestOutput = out
	return ok, out, nil
}
