package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"threadex/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	historyLimit        int
	historyPlaceholders bool
)

// historyCmd lists past exports from the SQLite index.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List exported conversations from the export index",
	Long: `Lists exported conversations, newest first, from the SQLite export index
configured as output.index_path. Use --placeholders to list only threads
whose data could not be captured and are worth retrying.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyPlaceholders, "placeholders", false, "Only show placeholder exports")
}

var (
	headerStyle      = lipgloss.NewStyle().Bold(true).Underline(true)
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Output.IndexPath == "" {
		return errors.New("no export index configured (set output.index_path)")
	}
	idx, err := store.OpenIndex(cfg.Output.IndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	entries, err := idx.List(historyLimit, historyPlaceholders)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), entries)
	return nil
}

func printHistory(out io.Writer, entries []store.IndexEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No exports recorded yet."))
		return
	}

	fmt.Fprintf(out, "%s  %s  %s\n",
		headerStyle.Render(pad("EXPORTED", 16)),
		headerStyle.Render(pad("THREAD", 24)),
		headerStyle.Render("TITLE"))
	for _, e := range entries {
		title := e.Title
		if e.Placeholder {
			title = placeholderStyle.Render("[placeholder] ") + title
		}
		fmt.Fprintf(out, "%s  %s  %s\n",
			mutedStyle.Render(pad(e.ExportedAt.Local().Format("2006-01-02 15:04"), 16)),
			pad(truncate(e.ThreadID, 24), 24),
			title)
	}
}

func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
