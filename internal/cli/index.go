package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/config"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/retrieval"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the retrieval index of fix exemplars",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed CVE fixes and CWE entries into a retrieval index",
	Long: `Read CVE fix records and CWE Top 25 entries from JSON files, embed
them, and write a flat index file. With --push the records are also
imported into the configured Weaviate class.

Examples:
  mistborn index build --cve data/cve_fixes.json --cwe data/cwe_top25.json
  mistborn index build --cve data/cve_fixes.json --out idx.json --push`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

func init() {
	indexBuildCmd.Flags().String("cve", "", "JSON array of CVE fix records")
	indexBuildCmd.Flags().String("cwe", "", "JSON array of CWE Top 25 entries")
	indexBuildCmd.Flags().StringP("out", "o", "", "index file to write (default: retrieval.index_path)")
	indexBuildCmd.Flags().Bool("push", false, "also import the records into Weaviate")
	indexCmd.AddCommand(indexBuildCmd)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cvePath, _ := cmd.Flags().GetString("cve")
	cwePath, _ := cmd.Flags().GetString("cwe")
	out, _ := cmd.Flags().GetString("out")
	push, _ := cmd.Flags().GetBool("push")
	if out == "" {
		out = cfg.Retrieval.IndexPath
	}

	records, err := loadRecords(cvePath, cwePath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("nothing to index: pass --cve and/or --cwe")
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OpenAI API key not found", config.ErrConfiguration)
	}

	count, err := retrieval.NewTiktokenCounter()
	if err != nil {
		return err
	}
	b := &retrieval.Builder{
		Embedder: newOpenAI(cfg, logger),
		Count:    count,
		Log:      logger,
	}
	built, err := b.Build(ctx, records)
	if err != nil {
		return err
	}

	idx, err := built.Index()
	if err != nil {
		return err
	}
	if err := idx.Save(out); err != nil {
		return err
	}
	fmt.Printf("Indexed %d record(s), skipped %d over the token limit -> %s\n", len(built.Records), built.Skipped, out)

	if push {
		w, err := retrieval.NewWeaviateIndex(cfg.Retrieval.Weaviate.URL, cfg.Retrieval.Weaviate.Class, logger)
		if err != nil {
			return err
		}
		stored, err := w.Put(ctx, built.Records, built.Vectors)
		if err != nil {
			return err
		}
		logger.Info("weaviate import", zap.Int("stored", stored), zap.Int("total", len(built.Records)))
		fmt.Printf("Imported %d record(s) into %s\n", stored, cfg.Retrieval.Weaviate.Class)
	}
	return nil
}

// loadRecords formats CVE records first, then CWE entries.
func loadRecords(cvePath, cwePath string) ([]model.RetrievalRecord, error) {
	var records []model.RetrievalRecord
	for _, src := range []struct {
		path   string
		format func(map[string]any) model.RetrievalRecord
	}{
		{cvePath, retrieval.FormatCVE},
		{cwePath, retrieval.FormatCWE},
	} {
		if src.path == "" {
			continue
		}
		entries, err := retrieval.LoadEntries(src.path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			records = append(records, src.format(e))
		}
	}
	return records, nil
}
