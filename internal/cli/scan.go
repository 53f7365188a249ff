package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/detect"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/patch"
	"github.com/sprite-ai/mistborn/internal/repo"
	"github.com/sprite-ai/mistborn/internal/tui"
)

var scanCmd = &cobra.Command{
	Use:   "scan <repo-path>",
	Short: "Scan commits for vulnerabilities",
	Long: `Scan the latest commit of a git repository (or every commit with
--commit-all) for security vulnerabilities. With --patch, vulnerable
commits are run through patch generation and the chosen patch is saved
under the configured patches directory.

Examples:
  mistborn scan ./repo
  mistborn scan ./repo --patch --test-cmd "make test"
  mistborn scan ./repo --commit 3 --patch --review --apply`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("commit-all", false, "scan every commit, oldest first")
	scanCmd.Flags().Int("commit", 0, "scan the Nth commit (1 = oldest) instead of the latest")
	scanCmd.Flags().Bool("patch", false, "generate patches for vulnerable commits")
	scanCmd.Flags().Bool("apply", false, "write accepted patches into the repository")
	scanCmd.Flags().String("test-cmd", "", "shell command run against each patched file")
	scanCmd.Flags().Bool("review", false, "browse the candidates before saving")
}

type scanOptions struct {
	Patch    bool
	Apply    bool
	TestCmd  string
	Review   bool
	PatchDir string
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := repo.Open(ctx, args[0], logger)
	if err != nil {
		return err
	}

	commitAll, _ := cmd.Flags().GetBool("commit-all")
	nth, _ := cmd.Flags().GetInt("commit")
	hashes, err := selectCommits(ctx, r, commitAll, nth)
	if err != nil {
		return err
	}

	comp, err := loadComponents(logger)
	if err != nil {
		return err
	}

	opts := scanOptions{PatchDir: cfg.Patches.Dir}
	opts.Patch, _ = cmd.Flags().GetBool("patch")
	opts.Apply, _ = cmd.Flags().GetBool("apply")
	opts.TestCmd, _ = cmd.Flags().GetString("test-cmd")
	opts.Review, _ = cmd.Flags().GetBool("review")

	for _, h := range hashes {
		// A failing commit is reported and the scan moves on.
		if err := scanCommit(ctx, os.Stdout, comp, r, h, opts); err != nil {
			logger.Error("scan failed", zap.String("commit", h), zap.Error(err))
			fmt.Fprintf(os.Stderr, "commit %s: %v\n", short(h), err)
		}
	}
	return nil
}

func selectCommits(ctx context.Context, r *repo.Repository, all bool, nth int) ([]string, error) {
	switch {
	case all:
		total, err := r.TotalCommits(ctx)
		if err != nil {
			return nil, err
		}
		hashes := make([]string, 0, total)
		for n := 1; n <= total; n++ {
			h, err := r.CommitByNumber(ctx, n)
			if err != nil {
				return nil, err
			}
			hashes = append(hashes, h)
		}
		return hashes, nil
	case nth > 0:
		h, err := r.CommitByNumber(ctx, nth)
		if err != nil {
			return nil, err
		}
		return []string{h}, nil
	default:
		h, err := r.LatestCommit(ctx)
		if err != nil {
			return nil, err
		}
		return []string{h}, nil
	}
}

// scanCommit detects, and optionally patches, one commit.
func scanCommit(ctx context.Context, w io.Writer, comp *components, r *repo.Repository, hash string, opts scanOptions) error {
	files, err := r.CommitFiles(ctx, hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Commit %s: %d file(s)\n", short(hash), len(files))

	report, err := comp.detector.Detect(ctx, r.Name(), files)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, report.Summary)
	for _, b := range report.Bugs {
		fmt.Fprintf(w, "  [%s] %s: %s\n", b.VulnerabilityType, b.Location, b.Description)
	}

	if !opts.Patch || !detect.IsVulnerable(report) {
		return nil
	}

	p := *comp.pipeline
	p.Observer = func(e patch.Event) {
		logger.Debug("pipeline", zap.String("stage", e.Stage), zap.String("detail", e.Detail), zap.Duration("elapsed", e.Elapsed))
	}
	out, err := p.Run(ctx, files, *report)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Selected strategy: %s (rag: %s after %d round(s))\n", out.Selection.ChosenLabel, out.RAG.State, out.RAG.Iterations)

	if opts.Review {
		res, err := tui.Run(out.Candidates, out.Selection.ChosenLabel, files, comp.matcher)
		if err != nil {
			return fmt.Errorf("review: %w", err)
		}
		if err := override(out, res, comp.reconciler, files); err != nil {
			return err
		}
	}

	if out.Miss {
		fmt.Fprintln(w, "No changed file matched the selected patch; nothing saved.")
		return nil
	}
	return saveArtifacts(ctx, w, files, out, r.Dir(), opts)
}

// override swaps the outcome's reconciliation for the user's choice.
func override(out *patch.Outcome, res tui.Result, rec *patch.Reconciler, files []model.ChangedFile) error {
	again, err := res.Reapply(rec, files, out.Candidates, out.Selection.ChosenLabel)
	if err != nil || again == nil {
		return err
	}
	text, _ := out.Candidates.Get(again.Label)
	out.Selection = model.SelectionResult{ChosenLabel: again.Label, ChosenText: text}
	out.Files = again.Files
	out.Matched = again.Matched
	out.Miss = again.Miss
	out.Code = again.Code
	return nil
}

func saveArtifacts(ctx context.Context, w io.Writer, files []model.ChangedFile, out *patch.Outcome, repoDir string, opts scanOptions) error {
	arts, err := patch.Artifacts(files, out)
	if err != nil {
		return err
	}
	store := patch.NewStore(opts.PatchDir, logger)
	for _, a := range arts {
		fmt.Fprintf(w, "Patch for %s (+%d -%d)\n", a.OriginalFile, a.Added, a.Deleted)

		if opts.TestCmd != "" {
			ok, output, err := patch.TestPatch(ctx, a, opts.TestCmd)
			if err != nil {
				return err
			}
			status := "passed"
			if !ok {
				status = "failed"
			}
			fmt.Fprintf(w, "  test %s\n", status)
			logger.Debug("test output", zap.String("file", a.OriginalFile), zap.String("output", output))
		}

		if opts.Apply {
			if err := patch.Apply(repoDir, a); err != nil {
				return err
			}
			fmt.Fprintf(w, "  applied to %s\n", a.OriginalFile)
		}

		path, err := store.Save(a)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  saved %s\n", path)
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
