package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/backend"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/middleware"
)

func rateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <message-id> <1-5>",
		Short: "Rate an answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := middleware.ValidateID("message", args[0]); err != nil {
				return err
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil || rating < 1 || rating > 5 {
				return fmt.Errorf("rating must be between 1 and 5")
			}
			c, err := newClients()
			if err != nil {
				return err
			}
			if err := c.backend.RateMessage(cmd.Context(), args[0], rating); err != nil {
				return err
			}
			fmt.Printf("rated %s: %d\n", args[0], rating)
			return nil
		},
	}
}

func commentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <message-id> <text>",
		Short: "Leave a comment on an answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := middleware.ValidateID("message", args[0]); err != nil {
				return err
			}
			c, err := newClients()
			if err != nil {
				return err
			}
			if err := c.backend.AddComment(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("comment saved")
			return nil
		},
	}
}

func urlsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "urls", Short: "Manage indexed URLs"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List indexed URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			listing, err := c.backend.ListURLs(cmd.Context())
			if err != nil {
				return err
			}
			return printListing(listing, "URL")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <url>",
		Short: "Queue a URL for crawling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			ack, err := c.backend.AddURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printIngestion(ack, "queued "+args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <url>",
		Short: "Remove a URL from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			ack, err := c.backend.DeleteURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printIngestion(ack, "deleted "+args[0])
		},
	})
	return cmd
}

func docsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "docs", Short: "Manage indexed documents"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List indexed documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			listing, err := c.backend.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			return printListing(listing, "Document")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <file.pdf>",
		Short: "Upload a PDF document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := filepath.Base(args[0])
			if err := middleware.ValidateDocumentName(name); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := newClients()
			if err != nil {
				return err
			}
			ack, err := c.backend.AddDocument(cmd.Context(), name, data)
			if err != nil {
				return err
			}
			return printIngestion(ack, "uploaded "+name)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			ack, err := c.backend.DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printIngestion(ack, "deleted "+args[0])
		},
	})
	return cmd
}

func citationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citations",
		Short: "Show which sources answers cited",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			var q backend.CitationQuery
			q.ConversationID, _ = cmd.Flags().GetString("conversation")
			q.DateFrom, _ = cmd.Flags().GetString("from")
			q.DateTo, _ = cmd.Flags().GetString("to")

			report, err := c.backend.CitationAnalytics(cmd.Context(), q)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(report)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"URL", "Count"})
			for _, cc := range report.Citations {
				t.AppendRow(table.Row{cc.URL, cc.Count})
			}
			t.AppendFooter(table.Row{fmt.Sprintf("%d unique", report.UniqueURLs), report.TotalCitations})
			t.Render()
			return nil
		},
	}
	cmd.Flags().String("conversation", "", "only this conversation")
	cmd.Flags().String("from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "end date (YYYY-MM-DD)")
	return cmd
}

func printListing(listing *backend.Listing, kind string) error {
	if viper.GetBool("json") {
		return printJSON(listing)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", kind})
	for _, b := range listing.Blocks {
		name := b.URL
		if name == "" {
			name = b.Filename
		}
		t.AppendRow(table.Row{b.ID, name})
	}
	t.AppendFooter(table.Row{"Vectors", listing.TotalVectors})
	t.Render()
	return nil
}

func printIngestion(ack *backend.Ingestion, done string) error {
	if viper.GetBool("json") {
		return printJSON(ack)
	}
	if ack != nil && ack.Message != "" {
		fmt.Printf("%s: %s\n", done, ack.Message)
		return nil
	}
	fmt.Println(done)
	return nil
}
