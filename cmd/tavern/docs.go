package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tavern-chat/internal/config"
	"github.com/zhouzirui/tavern-chat/internal/service/docstore"
)

func newDocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage the document collection",
	}
	cmd.AddCommand(newDocsAddCmd(), newDocsGetCmd(), newDocsDeleteCmd(), newDocsSearchCmd())
	return cmd
}

// openDocStore opens the configured collection. Embeddings use the Gemini
// API when a key is configured.
func openDocStore(ctx context.Context) (*docstore.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var embedder docstore.Embedder
	if cfg.AI.GeminiAPIKey != "" {
		e, err := docstore.NewGenAIEmbedder(ctx, cfg.AI.GeminiAPIKey, cfg.AI.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		embedder = e
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, documents are stored without embeddings")
	}
	return docstore.Open(ctx, cfg.DocStore, embedder)
}

func newDocsAddCmd() *cobra.Command {
	var (
		id       string
		metadata string
	)
	cmd := &cobra.Command{
		Use:   "add [file]",
		Short: "Store a document read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			content, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			doc := docstore.Document{ID: id, Content: strings.TrimSpace(string(content))}
			if doc.Content == "" {
				return fmt.Errorf("document is empty")
			}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
					return fmt.Errorf("invalid --metadata: %w", err)
				}
			}

			store, err := openDocStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err = store.Put(cmd.Context(), doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (generated when empty)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON object stored with the document")
	return cmd
}

func newDocsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}

func newDocsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(cmd.Context(), args[0])
		},
	}
}

func newDocsSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "List the documents most similar to query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			matches, err := store.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			writeMatches(cmd.OutOrStdout(), matches)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "k", 5, "number of results")
	return cmd
}

func writeMatches(out io.Writer, matches []docstore.Match) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tID\tCONTENT")
	for _, m := range matches {
		fmt.Fprintf(w, "%.3f\t%s\t%s\n", m.Score, m.ID, preview(m.Content, 60))
	}
	w.Flush()
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}
