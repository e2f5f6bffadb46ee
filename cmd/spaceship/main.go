// Command spaceship is a terminal client for the Spaceship assistant.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/backend"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/gateway"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/identity"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/job"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "spaceship",
	Short: "Spaceship assistant CLI",
	Long: `Ask the Spaceship assistant questions and manage what it knows.
- Conversations are loaded from the backend for your user (a guest id is
  generated on first use and kept in the config directory).
- Questions run as jobs: the CLI submits, polls until the job settles and
  reveals the answer as it arrives.
- Knowledge commands manage the URLs and documents answers are drawn from.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPACESHIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	home, _ := os.UserConfigDir()
	rootCmd.PersistentFlags().String("backend-url", "http://localhost:8080/engine", "backend base URL")
	rootCmd.PersistentFlags().String("api-key", "", "backend API key")
	rootCmd.PersistentFlags().String("user", "", "user id (defaults to a stored guest id)")
	rootCmd.PersistentFlags().String("config-dir", filepath.Join(home, "spaceship"), "directory for the stored guest id")
	rootCmd.PersistentFlags().String("table", backend.DefaultTable, "message table")
	rootCmd.PersistentFlags().String("index", backend.DefaultIndex, "knowledge index")
	rootCmd.PersistentFlags().Duration("poll-interval", 2*time.Second, "delay between job status checks")
	rootCmd.PersistentFlags().Int("retries", 3, "attempts per backend call while it is overloaded")
	rootCmd.PersistentFlags().Int("load-limit", 500, "messages requested when loading conversations")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("verbose", false, "log requests to stderr")
	for _, name := range []string{"backend-url", "api-key", "user", "config-dir", "table", "index", "poll-interval", "retries", "load-limit", "json", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(urlsCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(citationsCmd())
}

// clients are the collaborators every command builds from flags.
type clients struct {
	jobs    *job.Client
	backend *backend.Client
	log     *logger.Logger
	clock   clock.Clock
}

func newClients() (*clients, error) {
	log := logger.Nop()
	if viper.GetBool("verbose") {
		l, err := logger.NewDevelopment("debug")
		if err != nil {
			return nil, err
		}
		log = l
	}

	base := strings.TrimRight(viper.GetString("backend-url"), "/")
	var headers map[string]string
	if key := viper.GetString("api-key"); key != "" {
		headers = map[string]string{"x-api-key": key}
	}
	clk := clock.Real()
	policy := gateway.NoRetry()
	if n := viper.GetInt("retries"); n > 1 {
		policy = gateway.DefaultPolicy()
		policy.MaxAttempts = n
	}
	gw := gateway.New(gateway.Config{Clock: clk, Logger: log, Policy: policy, Headers: headers})

	return &clients{
		jobs: job.NewClient(job.Config{
			CreateURL:    base + "/jobs",
			StatusURL:    base + "/jobs",
			PollInterval: viper.GetDuration("poll-interval"),
		}, gw, clk, log),
		backend: backend.New(backend.Endpoints{
			LoadConversations: base + "/load-conversations",
			RateMessage:       base + "/rate-message",
			AddComment:        base + "/add-comment",
			AddURL:            base + "/add-url",
			DeleteURL:         base + "/delete-url",
			AddDocument:       base + "/add-document",
			DeleteDocument:    base + "/delete-document",
			ListBlocks:        base + "/list-blocks",
			CitationAnalytics: base + "/analytics-citation",
		}, gw, log,
			backend.WithTable(viper.GetString("table")),
			backend.WithIndex(viper.GetString("index")),
			backend.WithLoadLimit(viper.GetInt("load-limit")),
		),
		log:   log,
		clock: clk,
	}, nil
}

// currentIdentity is the --user flag or the stored guest id.
func currentIdentity() (identity.Identity, error) {
	if id := strings.TrimSpace(viper.GetString("user")); id != "" {
		return identity.Identity{UserID: id, Guest: identity.IsGuest(id)}, nil
	}
	id, err := identity.LoadOrCreateGuest(viper.GetString("config-dir"), time.Now())
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{UserID: id, Guest: true}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
