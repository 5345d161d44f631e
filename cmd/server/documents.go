package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/CeliaPro/ysm2-sub000/internal/core"
)

var (
	ingestConversation string
	ingestProcessingID string
	ingestSource       string
	ingestUploadedBy   string
	ingestMaxChars     int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Split a text file into chunks and ingest it as a document version",
	Long: `Reads a plain-text file ("-" for stdin), splits it into chunks on
paragraph boundaries (form feeds start a new page) and ingests the chunks.
Chunks already known to the conversation reuse their stored embeddings.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <processingId>",
	Short: "Delete a document version and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the document versions ingested into a conversation",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var listConversation string

func init() {
	ingestCmd.Flags().StringVarP(&ingestConversation, "conversation", "c", "", "conversation the version belongs to (required)")
	ingestCmd.Flags().StringVar(&ingestProcessingID, "processing-id", "", "processing ID for this version (generated when empty)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source name recorded on the document (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestUploadedBy, "uploaded-by", "", "owner recorded on the document")
	ingestCmd.Flags().IntVar(&ingestMaxChars, "max-chunk-chars", core.DefaultMaxChunkChars, "upper bound on chunk length in characters")
	_ = ingestCmd.MarkFlagRequired("conversation")

	listCmd.Flags().StringVarP(&listConversation, "conversation", "c", "", "conversation whose versions are listed (required)")
	_ = listCmd.MarkFlagRequired("conversation")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	text, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	source := ingestSource
	if source == "" && args[0] != "-" {
		source = args[0]
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.ingestion.Ingest(ctx, core.IngestRequest{
		ConversationID: ingestConversation,
		ProcessingID:   ingestProcessingID,
		UploadedBy:     ingestUploadedBy,
		SourceName:     source,
		Chunks:         core.SplitText(text, ingestMaxChars),
	})
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.ingestion.DeleteDocument(ctx, args[0], "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d chunks)\n", args[0], deleted)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.ingestion.ListDocuments(ctx, listConversation)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), docs)
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
