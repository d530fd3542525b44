package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"rag-ingest/chunking"
	"rag-ingest/config"
	"rag-ingest/internal/bootstrap"
	"rag-ingest/internal/core/domain"
	apperrors "rag-ingest/pkg/errors"
	"rag-ingest/textextractor"
)

// Options configures the CLI
type Options struct {
	Config   *config.Config
	Registry *textextractor.Registry
	// Embedder is only built when the chunk command runs the semantic strategy
	Embedder func() (chunking.Embedder, error)
	// Components wires the full pipeline for ingest and sessions
	Components func(ctx context.Context) (*bootstrap.Components, error)
	Version    string
}

// CLI represents the command line interface
type CLI struct {
	config     *config.Config
	registry   *textextractor.Registry
	embedder   func() (chunking.Embedder, error)
	components func(ctx context.Context) (*bootstrap.Components, error)
	version    string
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Config == nil {
		opts.Config = config.Load()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &CLI{
		config:     opts.Config,
		registry:   opts.Registry,
		embedder:   opts.Embedder,
		components: opts.Components,
		version:    opts.Version,
	}
}

// GetRootCommand returns the root cobra command
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rag-ingest",
		Short: "RAG ingestion CLI - extract, chunk and index documents",
		Long: `rag-ingest turns PDF, DOCX, TXT, Markdown and HTML files into
page-scoped chunks with embeddings, ready for retrieval.

Use "chunk" and "extract" to inspect a file locally, "ingest" to run the
full pipeline against the configured embedder and vector store.`,
		Version:       cli.version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(cli.getChunkCommand())
	rootCmd.AddCommand(cli.getExtractCommand())
	rootCmd.AddCommand(cli.getIngestCommand())
	rootCmd.AddCommand(cli.getSessionsCommand())
	rootCmd.AddCommand(cli.getVersionCommand())

	return rootCmd
}

func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().String("session", "", "Session ID (UUID, random when empty)")
	cmd.Flags().String("document", "", "Document ID (UUID, random when empty)")
	cmd.Flags().StringP("output", "o", "", "Write JSON to this file instead of stdout")
}

func addChunkingFlags(cmd *cobra.Command, defaults chunking.Options) {
	cmd.Flags().String("strategy", defaults.Strategy, "Chunking strategy (recursive, semantic)")
	cmd.Flags().Int("size", defaults.ChunkSize, "Chunk size in characters (recursive)")
	cmd.Flags().Int("overlap", defaults.ChunkOverlap, "Overlap between chunks in characters (recursive)")
}

// getChunkCommand returns the chunk command
func (cli *CLI) getChunkCommand() *cobra.Command {
	chunkCmd := &cobra.Command{
		Use:   "chunk [file]",
		Short: "Extract and chunk a file locally",
		Long: `Extract a document and split it into page-scoped chunks without
embedding or storing anything. The chunks are printed as JSON.

Strategies:
- recursive: character windows with overlap, split on natural separators
- semantic: breakpoints where neighbouring sentences stop being similar
  (needs the configured embedding backend)`,
		Args: cobra.ExactArgs(1),
		RunE: cli.chunkDocument,
	}
	addIdentityFlags(chunkCmd)
	addChunkingFlags(chunkCmd, cli.config.ChunkingOptions())
	return chunkCmd
}

// getExtractCommand returns the extract command
func (cli *CLI) getExtractCommand() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract text blocks and images from a file",
		Long:  "Extract a document and print its text blocks, image records and statistics as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  cli.extractDocument,
	}
	addIdentityFlags(extractCmd)
	return extractCmd
}

// getIngestCommand returns the ingest command
func (cli *CLI) getIngestCommand() *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Run the full ingestion pipeline for a file",
		Long: `Create (or replace) the user's session, store the file and run
extraction, chunking, embedding and vector storage against the configured
backends. The ingestion result is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: cli.ingestDocument,
	}
	ingestCmd.Flags().String("user", "", "User ID (UUID, random when empty)")
	ingestCmd.Flags().String("session", "", "Session ID (UUID, random when empty)")
	ingestCmd.Flags().StringP("output", "o", "", "Write JSON to this file instead of stdout")
	ingestCmd.Flags().Bool("chunks", false, "Include the chunks in the output")
	addChunkingFlags(ingestCmd, cli.config.ChunkingOptions())
	return ingestCmd
}

// getSessionsCommand returns the sessions command
func (cli *CLI) getSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage upload sessions",
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire sessions past their TTL",
		Long:  "Expire every session past its TTL, deleting its files and vectors",
		Args:  cobra.NoArgs,
		RunE:  cli.cleanupSessions,
	}

	sessionsCmd.AddCommand(cleanupCmd)
	return sessionsCmd
}

// getVersionCommand returns the version command
func (cli *CLI) getVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rag-ingest v%s\n", cli.version)
		},
	}
}

// ChunkOutput is the JSON printed by the chunk command
type ChunkOutput struct {
	File           string                   `json:"file"`
	SessionID      string                   `json:"session_id"`
	DocumentID     string                   `json:"document_id"`
	Strategy       string                   `json:"strategy"`
	EmbeddingModel string                   `json:"embedding_model"`
	ChunkCount     int                      `json:"chunk_count"`
	Chunks         []chunking.ChunkMetadata `json:"chunks"`
}

func (cli *CLI) chunkDocument(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID, documentID, err := identity(cmd)
	if err != nil {
		return err
	}

	opts, err := chunkingOptions(cmd, cli.config.ChunkingOptions())
	if err != nil {
		return err
	}
	strategy, model, err := opts.Resolve()
	if err != nil {
		return err
	}

	var embedder chunking.Embedder
	if strategy.Name() == chunking.StrategySemantic {
		if cli.embedder == nil {
			return apperrors.NewConfigurationError("semantic chunking needs an embedding backend")
		}
		if embedder, err = cli.embedder(); err != nil {
			return err
		}
	}

	result, err := cli.registry.Run(ctx, args[0], sessionID, documentID)
	if err != nil {
		return err
	}

	chunks, err := chunking.NewChunker(embedder).Chunk(ctx, result.Content, sessionID, documentID, opts)
	if err != nil {
		return err
	}

	return writeJSON(cmd, ChunkOutput{
		File:           args[0],
		SessionID:      sessionID.String(),
		DocumentID:     documentID.String(),
		Strategy:       string(strategy.Name()),
		EmbeddingModel: model,
		ChunkCount:     len(chunks),
		Chunks:         chunks,
	})
}

func (cli *CLI) extractDocument(cmd *cobra.Command, args []string) error {
	sessionID, documentID, err := identity(cmd)
	if err != nil {
		return err
	}

	result, err := cli.registry.Run(cmd.Context(), args[0], sessionID, documentID)
	if err != nil {
		return err
	}
	return writeJSON(cmd, result)
}

func (cli *CLI) ingestDocument(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if cli.components == nil {
		return apperrors.NewConfigurationError("ingestion pipeline is not configured")
	}

	userID, _ := cmd.Flags().GetString("user")
	if userID == "" {
		userID = uuid.NewString()
	}
	sessionFlag, _ := cmd.Flags().GetString("session")

	opts, err := chunkingOptions(cmd, cli.config.ChunkingOptions())
	if err != nil {
		return err
	}

	c, err := cli.components(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	session, err := c.Sessions.CreateSession(ctx, userID, sessionFlag)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", args[0], err)
	}

	upload, err := c.Documents.Upload(ctx, userID, session.SessionID.String(), []domain.Upload{{
		Filename: filepath.Base(args[0]),
		Size:     info.Size(),
		Content:  file,
	}})
	if err != nil {
		return err
	}
	if len(upload.Documents) == 0 {
		reasons := make([]string, 0, len(upload.Errors))
		for _, e := range upload.Errors {
			reasons = append(reasons, e.Error)
		}
		return apperrors.NewValidationError("file rejected: " + strings.Join(reasons, "; "))
	}
	doc := upload.Documents[0]

	result, err := c.Ingestion.Ingest(ctx, domain.IngestionRequest{
		SessionID:  session.SessionID,
		DocumentID: doc.DocumentID,
		Options:    &opts,
	})
	if err != nil {
		return err
	}

	if withChunks, _ := cmd.Flags().GetBool("chunks"); !withChunks {
		result.Chunks = nil
	}
	return writeJSON(cmd, map[string]interface{}{
		"user_id":    userID,
		"session_id": session.SessionID.String(),
		"expires_at": session.ExpiresAt,
		"document":   doc,
		"result":     result,
	})
}

func (cli *CLI) cleanupSessions(cmd *cobra.Command, args []string) error {
	if cli.components == nil {
		return apperrors.NewConfigurationError("session store is not configured")
	}

	c, err := cli.components(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	expired, err := c.Sessions.CleanupExpired(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Expired %d session(s)\n", expired)
	return nil
}

// identity reads --session and --document, generating random IDs for the
// ones left empty
func identity(cmd *cobra.Command) (uuid.UUID, uuid.UUID, error) {
	sessionID, err := uuidFlag(cmd, "session")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	documentID, err := uuidFlag(cmd, "document")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return sessionID, documentID, nil
}

func uuidFlag(cmd *cobra.Command, name string) (uuid.UUID, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, apperrors.NewInvalidUUIDError(name, value)
	}
	return id, nil
}

// chunkingOptions applies the flags the user set on top of defaults
func chunkingOptions(cmd *cobra.Command, defaults chunking.Options) (chunking.Options, error) {
	opts := defaults
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		opts.Strategy, _ = flags.GetString("strategy")
	}
	if flags.Changed("size") {
		opts.ChunkSize, _ = flags.GetInt("size")
	}
	if flags.Changed("overlap") {
		opts.ChunkOverlap, _ = flags.GetInt("overlap")
	}
	if _, _, err := opts.Resolve(); err != nil {
		return chunking.Options{}, err
	}
	return opts, nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	var w io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		w = file
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
