package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/patch"
)

var applyCmd = &cobra.Command{
	Use:   "apply <patch-file>...",
	Short: "Apply saved patches to a repository",
	Long: `Write the patched code of previously saved patch files into a
repository, keeping a .bak copy of each original. With --test-cmd a patch
is only applied when the command passes against it. Each patch file is
updated with the test result and applied status.

Examples:
  mistborn apply patches/vuln_20240309_140507.patch --repo ./repo
  mistborn apply patches/*.patch --repo ./repo --test-cmd "make test"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().String("repo", ".", "repository to write the patches into")
	applyCmd.Flags().String("test-cmd", "", "shell command a patch must pass before it is applied")
}

func runApply(cmd *cobra.Command, args []string) error {
	repoDir, _ := cmd.Flags().GetString("repo")
	testCmd, _ := cmd.Flags().GetString("test-cmd")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return applySaved(ctx, cmd.OutOrStdout(), repoDir, testCmd, args)
}

func applySaved(ctx context.Context, w io.Writer, repoDir, testCmd string, paths []string) error {
	for _, path := range paths {
		a, err := patch.Load(path)
		if err != nil {
			return err
		}
		// A file moved since saving is rewritten where it is now.
		a.SavedPath = path

		if testCmd != "" {
			ok, output, err := patch.TestPatch(ctx, a, testCmd)
			if err != nil {
				return err
			}
			logger.Debug("test output", zap.String("file", a.OriginalFile), zap.String("output", output))
			if !ok {
				fmt.Fprintf(w, "%s: test failed, not applied\n", a.OriginalFile)
				if err := patch.Update(a); err != nil {
					return err
				}
				continue
			}
		}

		if err := patch.Apply(repoDir, a); err != nil {
			return err
		}
		if err := patch.Update(a); err != nil {
			return err
		}
		fmt.Fprintf(w, "applied %s (%s)\n", a.OriginalFile, a.Strategy)
	}
	return nil
}
