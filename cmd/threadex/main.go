// Package main implements the threadex CLI.
package main

import (
	"fmt"
	"os"

	"threadex/internal/config"
	"threadex/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Export flags
	outputDir      string
	doneFile       string
	email          string
	convertEnabled bool
	converterPath  string
	logseqOutput   string
	headless       bool
	skipLogin      bool
	mode           string
	debuggerURL    string

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

// rootCmd represents the base command; without a subcommand it exports.
var rootCmd = &cobra.Command{
	Use:   "threadex",
	Short: "Export Perplexity conversations as JSON and Markdown files",
	Long: `threadex signs in to Perplexity in a real browser, scrolls the library to
find every conversation, and saves each one as <id>.json (the raw thread
payload) and <id>.md (a readable rendering).

Runs are resumable: processed URLs are recorded in the done file after every
conversation, and later runs only export what is new.

Run without a subcommand to export.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init must be able to replace an unreadable file.
		if cmd == configInitCmd {
			return nil
		}
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := logging.Initialize(cfg.Logging.ToLogging()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Boot("config loaded (mode=%s, output=%s)", cfg.Discovery.Mode, cfg.Output.Dir)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
	RunE: runExport,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath, "Config file (optional)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	pf.StringVarP(&outputDir, "output", "o", ".", "Output directory for conversations")
	pf.StringVarP(&doneFile, "done-file", "d", "done.json", "Done file location (tracks which URLs have been downloaded before)")
	pf.StringVarP(&email, "email", "e", "", "Perplexity email")
	pf.BoolVar(&convertEnabled, "convert", false, "Automatically convert exported conversations to Logseq format")
	pf.StringVar(&converterPath, "converter-path", "", "Path to conversation_converter.py (auto-detected if not provided)")
	pf.StringVar(&logseqOutput, "logseq-output", "", "Output directory for Logseq notes (defaults to <output>/logseq-notes)")
	pf.BoolVar(&headless, "headless", false, "Run Chrome headless (login needs a visible window)")
	pf.BoolVar(&skipLogin, "skip-login", false, "Assume the browser profile is already logged in")
	pf.StringVar(&mode, "mode", config.ModeShortCircuit, "Discovery mode: short_circuit or exhaustive")
	pf.StringVar(&debuggerURL, "debugger-url", "", "Attach to a running Chrome instead of launching one")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file (if any) and layers explicitly set flags
// on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, c)
	return c, nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		c.Output.Dir = outputDir
	}
	if flags.Changed("done-file") {
		c.Output.DoneFile = doneFile
	}
	if flags.Changed("email") {
		c.Account.Email = email
	}
	if flags.Changed("convert") {
		c.Convert.Enabled = convertEnabled
	}
	if flags.Changed("converter-path") {
		c.Convert.ConverterPath = converterPath
	}
	if flags.Changed("logseq-output") {
		c.Convert.OutputDir = logseqOutput
	}
	if flags.Changed("headless") {
		c.Browser.Headless = headless
	}
	if flags.Changed("skip-login") {
		c.Browser.SkipLogin = skipLogin
	}
	if flags.Changed("mode") {
		c.Discovery.Mode = mode
	}
	if flags.Changed("debugger-url") {
		c.Browser.DebuggerURL = debuggerURL
	}
	if verbose {
		c.Logging.Level = "debug"
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal error:", err)
		os.Exit(1)
	}
}
