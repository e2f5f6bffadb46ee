package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/reveal"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/session"
)

func newSession(c *clients) (*session.Session, error) {
	id, err := currentIdentity()
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{
		Identity: id,
		Jobs:     c.jobs,
		Backend:  c.backend,
		Clock:    c.clock,
		Logger:   c.log,
	}), nil
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			s, err := newSession(c)
			if err != nil {
				return err
			}
			convs, err := s.Load(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(model.ListConversationsResponse{
					UserID:        s.Identity().UserID,
					Guest:         s.Identity().Guest,
					Conversations: convs,
					Total:         len(convs),
				})
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Title", "Messages", "Created"})
			for _, conv := range convs {
				t.AppendRow(table.Row{conv.ID, conv.Title, len(conv.Messages), conv.CreatedAt.Format(time.DateTime)})
			}
			t.Render()
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and wait for the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClients()
			if err != nil {
				return err
			}
			s, err := newSession(c)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			convID, _ := cmd.Flags().GetString("conversation")
			if convID != "" {
				if _, err := s.Load(ctx); err != nil {
					return err
				}
			} else {
				convID = s.NewConversation().ID
			}

			quiet := viper.GetBool("json")
			out, err := s.Ask(ctx, session.AskRequest{
				ConversationID: convID,
				Question:       strings.Join(args, " "),
				OnStatus: func(attempt int, status model.JobStatus) {
					if !quiet {
						fmt.Fprintf(os.Stderr, "\r%s (check %d)", strings.ToLower(string(status)), attempt)
					}
				},
			})
			if !quiet {
				fmt.Fprint(os.Stderr, "\r\033[K")
			}
			if err != nil {
				if notice := model.Notice(err); notice != "" {
					return fmt.Errorf("%s", notice)
				}
				return err
			}
			if quiet {
				return printJSON(out)
			}

			revealAnswer(ctx, c, out.Assistant.Content)
			printSources(out.Assistant.Sources)
			if out.Artifact != nil && out.Artifact.Draft != nil {
				d := out.Artifact.Draft
				fmt.Printf("\nDraft email to %s (%s)\nSubject: %s\n\n%s\n", d.Recipient, out.Artifact.ID, d.Subject, d.Body)
			}
			fmt.Printf("\nconversation %s, message %s\n", out.Conversation.ID, out.Assistant.ID)
			return nil
		},
	}
	cmd.Flags().String("conversation", "", "continue an existing conversation")
	return cmd
}

// revealAnswer writes the answer as it is revealed, printing only the
// runes each prefix adds.
func revealAnswer(ctx context.Context, c *clients, text string) {
	d := reveal.NewDriver(c.clock, reveal.DefaultInterval)
	defer d.Stop()

	printed := 0
	for prefix := range d.Reveal(ctx, text) {
		fmt.Print(prefix[printed:])
		printed = len(prefix)
	}
	if printed < len(text) {
		fmt.Print(text[printed:])
	}
	fmt.Println()
}

func printSources(sources []model.Source) {
	if len(sources) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Source", "URL"})
	for _, src := range sources {
		t.AppendRow(table.Row{src.Title, src.URL})
	}
	t.Render()
}
