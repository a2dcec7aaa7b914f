// Package main provides the docqa operator CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docqa/internal/app"
	"github.com/bull/docqa/internal/config"
	"github.com/bull/docqa/internal/ingest"
)

var (
	configPath string
	dryRun     bool
	userID     string
	watchDir   string
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Document question answering tool",
	Long: `Operator CLI for the document Q&A service.

Commands act directly on the metadata store and providers, without the HTTP
API or its authentication. Settings come from --config (or DOCQA_CONFIG) and
the same environment variables as the server.`,
	SilenceUsage: true,
}

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question>",
	Short: "Answer a question from one document",
	Long: `Chunks the document, ranks chunks by embedding similarity to the
question and asks the generation model to answer from the best ones.

With --dry-run the assembled prompt is printed instead of being sent to the
generation model.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <document-id>",
	Short: "Generate and store a document summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummarize,
}

var sectionsCmd = &cobra.Command{
	Use:   "sections <document-id>",
	Short: "Outline a document's main sections",
	Args:  cobra.ExactArgs(1),
	RunE:  runSections,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload local files as documents",
	Long: `Extracts text from each file (.pdf, .md, .markdown, .txt), stores the
original in blob storage and records the document for --user.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest files dropped into a directory",
	Long: `Watches --dir and uploads every supported file created or rewritten
there on behalf of --user. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List a user's documents",
	Args:  cobra.NoArgs,
	RunE:  runDocs,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("DOCQA_CONFIG"), "path to a YAML config file")

	askCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the prompt without calling the generation model")

	for _, cmd := range []*cobra.Command{ingestCmd, watchCmd, docsCmd} {
		cmd.Flags().StringVar(&userID, "user", "", "owner of the documents (identity provider subject)")
		cmd.MarkFlagRequired("user")
	}
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "inbox directory to watch")
	watchCmd.MarkFlagRequired("dir")

	rootCmd.AddCommand(askCmd, summarizeCmd, sectionsCmd, ingestCmd, watchCmd, docsCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and wires the components.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg, cfg.NewLogger(os.Stderr))
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	documentID, question := args[0], strings.Join(args[1:], " ")

	if dryRun {
		prompt, err := a.Pipeline.Prompt(ctx, documentID, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), prompt)
		return nil
	}

	answer, err := a.Pipeline.Answer(ctx, documentID, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Pipeline.Summarize(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

func runSections(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Pipeline.Sections(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Sections) == 0 {
		fmt.Fprintln(out, res.Raw)
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Sections)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		doc, err := a.Documents.IngestFile(ctx, userID, path)
		if err != nil {
			fmt.Fprintf(out, "  - %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  + %s -> %s\n", path, doc.ID)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for %s (Ctrl-C to stop)\n", watchDir, userID)
	return ingest.NewWatcher(a.Documents, userID, a.Logger).Watch(ctx, watchDir)
}

func runDocs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Documents.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No documents.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tUPLOADED\tSUMMARY")
	for _, d := range docs {
		summary := "no"
		if d.HasSummary {
			summary = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.OriginalFilename, d.UploadedAt.Format("2006-01-02 15:04"), summary)
	}
	return w.Flush()
}
