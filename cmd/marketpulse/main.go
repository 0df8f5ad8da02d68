// marketpulse: financial news sentiment for Indian markets.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/marketpulse/internal/app"
	"github.com/seenimoa/marketpulse/internal/config"
	"github.com/seenimoa/marketpulse/internal/infra"
	"github.com/seenimoa/marketpulse/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketpulse",
	Short: "marketpulse — financial news sentiment for NSE instruments and sectors",
	Long: `marketpulse ingests financial news feeds, removes duplicate stories,
recognizes the NSE instruments and sectors each article mentions, scores
sentiment with an ensemble of backends and serves rolling aggregates.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	statusCmd.Flags().Bool("ping", false, "ping each configured LLM provider")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(sectorsCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serveCmd)
}

// openApp builds the application from the loaded config. Callers close it.
func openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, cfg, infra.NewLogger(cfg.Logging.Level))
}

// windowFlag returns --window, or the configured default when unset.
func windowFlag(cmd *cobra.Command) time.Duration {
	if w, _ := cmd.Flags().GetDuration("window"); w > 0 {
		return w
	}
	return cfg.Aggregate.DefaultWindow
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("marketpulse %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, credentials and store counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("marketpulse — System Status"))
		fmt.Println(kv("Version", fmt.Sprintf("%s (%s)", version, commit)))
		fmt.Println(kv("Time (IST)", utils.FormatDateTimeIST(utils.NowIST())))
		fmt.Println(kv("Storage", cfg.Storage.Path))
		fmt.Println(kv("LLM Provider", fmt.Sprintf("%s (model: %s)", cfg.LLM.Primary, orDefault(cfg.LLM.Model, "default"))))
		fmt.Println()

		fmt.Println(sectionStyle.Render("Backends"))
		for _, name := range cfg.Sentiment.Backends {
			state := dimStyle.Render("disabled")
			if cfg.BackendEnabled(name) {
				state = successStyle.Render(fmt.Sprintf("weight %.2f", cfg.Sentiment.Weights[name]))
			}
			fmt.Printf("  %-20s %s\n", name, state)
		}
		fmt.Println()

		fmt.Println(sectionStyle.Render("API Keys"))
		for _, k := range config.CheckAPIKeys(cfg) {
			status := errorStyle.Render("not set")
			if k.IsSet {
				status = successStyle.Render(fmt.Sprintf("set (%s: %s)", k.Source, k.Masked))
			}
			fmt.Printf("  %-20s %s\n", k.Name+":", status)
		}

		if err := cfg.Validate(); err != nil {
			fmt.Println()
			fmt.Println(errorStyle.Render(err.Error()))
			return nil
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		total, analyzed, err := a.Store.CountArticles(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(sectionStyle.Render("Store"))
		fmt.Println(kv("Articles", fmt.Sprintf("%d (%d analyzed)", total, analyzed)))
		fmt.Println(kv("Corpus", fmt.Sprintf("%s, %d instruments", a.Recognizer.Version(), a.Recognizer.InstrumentCount())))

		if ping, _ := cmd.Flags().GetBool("ping"); ping && a.Router != nil {
			fmt.Println()
			fmt.Println(sectionStyle.Render("LLM Providers"))
			health := a.Router.HealthCheck(cmd.Context())
			for _, name := range a.Router.ProviderNames() {
				state := successStyle.Render("ok")
				if err := health[name]; err != nil {
					state = errorStyle.Render(err.Error())
				}
				fmt.Printf("  %-20s %s\n", name, state)
			}
		}
		return nil
	},
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
