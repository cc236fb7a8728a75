package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"threadex/internal/browser"
	"threadex/internal/config"
	"threadex/internal/convert"
	"threadex/internal/export"
	"threadex/internal/logging"
	"threadex/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// exportCmd is the explicit form of the default action.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Log in, discover new conversations and export them",
	RunE:  runExport,
}

var (
	progressStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	warnStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

func runExport(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var afterRun func(context.Context, export.ExportSummary) error
	if cfg.Convert.Enabled {
		runner, err := newConverter(cfg, out)
		if err != nil {
			return err
		}
		afterRun = func(ctx context.Context, _ export.ExportSummary) error {
			fmt.Fprintln(out, "\nRunning post-export conversion to Logseq format...")
			res, err := runner.Run(ctx, cfg.Output.Dir, cfg.GetConvertOutputDir())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, successStyle.Render("Conversion complete! Logseq notes saved to: "+res.OutputDir))
			return nil
		}
	}

	done, err := store.LoadDoneFile(cfg.Output.DoneFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded %d processed URLs from done file\n", done.Len())

	runID := uuid.NewString()
	writerOpts := []store.WriterOption{store.WithWriterRunID(runID)}
	if cfg.Output.IndexPath != "" {
		idx, err := store.OpenIndex(cfg.Output.IndexPath)
		if err != nil {
			return err
		}
		defer idx.Close()
		writerOpts = append(writerOpts, store.WithIndex(idx))
	}
	writer, err := store.NewThreadWriter(cfg.Output.Dir, writerOpts...)
	if err != nil {
		return err
	}

	session := browser.NewSession(browserConfig(cfg))
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := session.Shutdown(); err != nil {
			logging.BootWarn("browser shutdown: %v", err)
		}
	}()
	if cfg.Browser.DebuggerURL == "" {
		logging.Get(logging.CategoryBrowser).Debug("devtools endpoint %s (reuse with --debugger-url)", session.ControlURL())
	}

	if !cfg.Browser.SkipLogin {
		fmt.Fprintln(out, "Navigating to Perplexity...")
		err := session.Login(ctx, browser.LoginOptions{
			BaseURL:      cfg.Browser.BaseURL,
			Email:        cfg.Account.Email,
			StepTimeout:  cfg.GetNavigationTimeout(),
			LoginTimeout: cfg.GetLoginTimeout(),
			Notify:       func(msg string) { fmt.Fprintln(out, msg) },
		})
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Fprintln(out, "Successfully logged in")
	}

	correlator := export.NewCorrelator(session,
		export.WithThreadTimeout(cfg.GetThreadTimeout()),
		export.WithNavigationTimeout(cfg.GetNavigationTimeout()),
	)
	if err := correlator.Initialize(ctx); err != nil {
		return err
	}
	defer correlator.Close()

	discoverer := export.NewDiscoverer(session, discoveryOptions(cfg))

	opts := []export.ExporterOption{
		export.WithRunID(runID),
		export.WithPacing(cfg.GetPacingDelay()),
		export.WithProgress(progressPrinter(out)),
	}
	if afterRun != nil {
		opts = append(opts, export.WithAfterRun(afterRun))
	}

	summary, err := export.NewExporter(discoverer, correlator, writer, done, opts...).Run(ctx)
	printSummary(out, summary, writer.Dir())
	return err
}

func browserConfig(c *config.Config) browser.Config {
	return browser.Config{
		ChromeBin:         c.Browser.ChromeBin,
		DebuggerURL:       c.Browser.DebuggerURL,
		Flags:             c.Browser.Flags,
		UserDataDir:       c.Browser.UserDataDir,
		Headless:          c.Browser.Headless,
		Stealth:           c.Browser.Stealth,
		ViewportWidth:     c.Browser.ViewportWidth,
		ViewportHeight:    c.Browser.ViewportHeight,
		NavigationTimeout: c.GetNavigationTimeout(),
	}
}

func discoveryOptions(c *config.Config) export.DiscoveryOptions {
	return export.DiscoveryOptions{
		LibraryURL:        c.Discovery.LibraryURL,
		Mode:              export.Mode(c.Discovery.Mode),
		MaxAttempts:       c.Discovery.MaxScrollAttempts,
		MaxStall:          c.Discovery.MaxStall,
		SettleDelay:       c.GetSettleDelay(),
		SelectorTimeout:   c.GetSelectorTimeout(),
		NavigationTimeout: c.GetNavigationTimeout(),
		Strategies:        export.StrategiesFromSelectors(c.GetSelectors()),
	}
}

// newConverter resolves the converter script up front so a missing script
// fails the run before any browser work.
func newConverter(c *config.Config, out io.Writer) (*convert.Runner, error) {
	path := c.Convert.ConverterPath
	if path != "" {
		path = convert.ExpandUser(path)
	} else {
		found, err := convert.FindConverter(convert.DefaultCandidates())
		if err != nil {
			return nil, fmt.Errorf("%w; pass --converter-path", err)
		}
		path = found
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w at %s", convert.ErrConverterNotFound, path)
	}
	return &convert.Runner{
		Python:        c.Convert.Python,
		ConverterPath: path,
		Timeout:       c.GetConvertTimeout(),
		Stdout:        out,
		Stderr:        os.Stderr,
	}, nil
}

func progressPrinter(out io.Writer) export.ProgressFunc {
	return func(i, total int, item export.DiscoveryItem) {
		fmt.Fprintf(out, "\n%s %s\n", progressStyle.Render(fmt.Sprintf("[%d/%d] Processing:", i, total)), item.Title)
		fmt.Fprintln(out, mutedStyle.Render("URL: "+item.URL))
	}
}

func printSummary(out io.Writer, s export.ExportSummary, dir string) {
	line := fmt.Sprintf("Done: %d exported, %d placeholders, %d failed (%d discovered)",
		s.Exported, s.Placeholders, s.Failed, s.Discovered)
	if s.Failed > 0 || s.Placeholders > 0 {
		fmt.Fprintln(out, warnStyle.Render(line))
	} else {
		fmt.Fprintln(out, successStyle.Render(line))
	}
	fmt.Fprintln(out, mutedStyle.Render("Output: "+dir))
}
