package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/server"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	configPath string
	cfg        *config.Config

	queryHTML bool
)

var rootCmd = &cobra.Command{
	Use:           "docqa",
	Short:         "Ask questions about your documents",
	Long:          `Ingest PDF and text files into a vector index and answer questions grounded in their content.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Log)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Extract, chunk, embed and index documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage ingested documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runDocumentsList,
}

var documentsGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show a document record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsGet,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Delete a document and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsDelete,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import an encrypted snapshot of the chromem index",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the collection to an encrypted file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshot(true),
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load the collection from an encrypted file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshot(false),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file")
	queryCmd.Flags().BoolVar(&queryHTML, "html", false, "Render the answer as HTML")

	documentsCmd.AddCommand(documentsListCmd, documentsGetCmd, documentsDeleteCmd)
	snapshotCmd.AddCommand(snapshotExportCmd, snapshotImportCmd)
	rootCmd.AddCommand(ingestCmd, queryCmd, documentsCmd, serveCmd, snapshotCmd)
}

// withApp wires the pipeline for one command run
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		failed := 0
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				cmd.PrintErrf("%s: %v\n", path, err)
				failed++
				continue
			}

			result, err := a.pipeline.Ingest(ctx, models.IngestRequest{
				Filename: filepath.Base(path),
				Data:     data,
			})
			if err != nil {
				cmd.PrintErrf("%s: %s (%v)\n", path, models.Reason(err), err)
				var pe *models.PartialUpsertError
				if errors.As(err, &pe) && len(pe.Written) > 0 {
					cmd.PrintErrf("  %d vector(s) were written before the failure\n", len(pe.Written))
				}
				failed++
				continue
			}
			cmd.Printf("%s: document %s, %d chunk(s)\n", path, result.Document.ID, result.ChunkCount)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) failed", failed, len(args))
		}
		return nil
	})
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		resp, err := a.pipeline.Query(ctx, models.QueryRequest{Question: args[0]})
		if err != nil {
			var ge *models.GenerationError
			if errors.As(err, &ge) {
				cmd.PrintErrln(ge.Hint())
			}
			return err
		}

		answer := resp.Answer
		if queryHTML {
			if answer, err = helper.RenderMarkdown(resp.Answer); err != nil {
				return err
			}
		}
		cmd.Println(answer)
		cmd.Printf("\n(%d source(s), %d used as context)\n", resp.SourceCount, len(resp.RelevantTexts))
		return nil
	})
}

func runDocumentsList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		docs, err := a.pipeline.ListDocuments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		if len(docs) == 0 {
			cmd.Println("No documents found")
			return nil
		}
		for _, d := range docs {
			cmd.Printf("%s  %-4s %8d  %s  %s\n", d.ID, d.SourceType, d.ByteSize, d.UploadedAt.Format("2006-01-02 15:04:05"), d.Name)
		}
		cmd.Printf("\nTotal: %d documents\n", len(docs))
		return nil
	})
}

func runDocumentsGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		doc, err := a.pipeline.GetDocument(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get document: %w", err)
		}
		return helper.PrettyPrint(cmd.OutOrStdout(), doc)
	})
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.pipeline.DeleteDocument(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		cmd.Printf("Deleted document %s\n", args[0])
		return nil
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.New(cfg.Server, a.pipeline).Start(ctx)
	})
}

func runSnapshot(export bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.chromem == nil {
				return fmt.Errorf("snapshots need the chromem vector store, configured %q", cfg.VectorStore.Type)
			}
			file := a.chromem.SnapshotPath()
			if len(args) == 1 {
				file = args[0]
			}
			if export {
				if err := a.chromem.Export(ctx, file); err != nil {
					return err
				}
				log.Info().Str("file", file).Int("records", a.chromem.Count()).Msg("snapshot exported")
				return nil
			}
			if err := a.chromem.Import(ctx, file); err != nil {
				return err
			}
			log.Info().Str("file", file).Int("records", a.chromem.Count()).Msg("snapshot imported")
			return nil
		})
	}
}
