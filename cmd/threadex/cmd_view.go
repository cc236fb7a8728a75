package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var viewWidth int

// viewCmd renders an exported conversation in the terminal.
var viewCmd = &cobra.Command{
	Use:   "view [thread-id | file.md]",
	Short: "Render an exported conversation in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runView,
}

func init() {
	viewCmd.Flags().IntVar(&viewWidth, "width", 80, "Word wrap width")
}

func runView(cmd *cobra.Command, args []string) error {
	path := resolveMarkdownPath(cfg.Output.Dir, args[0])
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	rendered, err := renderMarkdown(string(data), viewWidth)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

// resolveMarkdownPath accepts a path to a .md file or a bare thread id in
// the output directory.
func resolveMarkdownPath(dir, arg string) string {
	if strings.HasSuffix(arg, ".md") {
		return arg
	}
	return filepath.Join(dir, arg+".md")
}

func renderMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
