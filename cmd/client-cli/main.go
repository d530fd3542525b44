package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"rag-ingest/cmd/client"
)

type options struct {
	baseURL string
	userID  string
	token   string
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.NewClient(client.Config{
		BaseURL: o.baseURL,
		UserID:  o.userID,
		Token:   o.token,
		Timeout: o.timeout,
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "rag-client",
		Short:         "Client for the rag-ingest HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:8000", "rag-ingest service URL")
	rootCmd.PersistentFlags().StringVar(&opts.userID, "user", os.Getenv("RAG_USER_ID"), "User ID (UUID)")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("RAG_SESSION_TOKEN"), "Session token")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Show service health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	})

	var sessionID string
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Create a session for the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.userID == "" {
				opts.userID = uuid.NewString()
			}
			c := opts.client()
			session, err := c.CreateSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, session)
		},
	}
	sessionCmd.Flags().StringVar(&sessionID, "id", "", "Session ID to use (random when empty)")
	rootCmd.AddCommand(sessionCmd)

	var uploadSession string
	var wait bool
	uploadCmd := &cobra.Command{
		Use:   "upload [files...]",
		Short: "Upload files to a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			resp, err := c.Upload(cmd.Context(), uploadSession, args...)
			if resp != nil {
				if printErr := printJSON(cmd, resp); printErr != nil {
					return printErr
				}
			}
			if err != nil || !wait {
				return err
			}

			for _, doc := range resp.Documents {
				if doc.JobID == "" {
					continue
				}
				job, err := c.WaitForJob(cmd.Context(), doc.JobID, time.Second)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, job); err != nil {
					return err
				}
			}
			return nil
		},
	}
	uploadCmd.Flags().StringVar(&uploadSession, "session", "", "Session ID")
	uploadCmd.Flags().BoolVar(&wait, "wait", false, "Wait for queued ingestion jobs")
	uploadCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(uploadCmd)

	var chatSession, systemPrompt string
	var limit int
	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Retrieve the session context for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Chat(cmd.Context(), chatSession, systemPrompt, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session ID")
	chatCmd.Flags().StringVar(&systemPrompt, "system", "You are a helpful assistant.", "System prompt")
	chatCmd.Flags().IntVar(&limit, "limit", 0, "Number of chunks to retrieve (server default when 0)")
	chatCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(chatCmd)

	var waitJob bool
	jobCmd := &cobra.Command{
		Use:   "job [id]",
		Short: "Show an ingestion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if waitJob {
				job, err := c.WaitForJob(cmd.Context(), args[0], time.Second)
				if job != nil {
					printJSON(cmd, job)
				}
				return err
			}
			job, err := c.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
	jobCmd.Flags().BoolVar(&waitJob, "wait", false, "Wait until the job completes or fails")
	rootCmd.AddCommand(jobCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}
