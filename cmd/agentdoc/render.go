package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/document"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathseg"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/mathtex"
)

const (
	formatTerm = "term"
	formatHTML = "html"
	formatJSON = "json"
)

type renderOptions struct {
	format string
	style  string
	width  int
	plain  bool
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Normalize a raw agent payload",
		Long: `Reads a raw backend payload (JSON or text) from a file, or stdin when
no file is given, and prints the normalized result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pipeline := newPipeline(cfg, root.logger(cmd.ErrOrStderr()))
			content, err := pipeline.Normalize(raw)
			if err != nil && root.verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return writeContent(cmd.OutOrStdout(), content, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatTerm, "output format: term, html or json")
	cmd.Flags().StringVar(&opts.style, "style", "auto", "glamour style for term output")
	cmd.Flags().IntVar(&opts.width, "width", 80, "word wrap width for term output")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print the normalized text without terminal styling")
	return cmd
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

func writeContent(w io.Writer, content domain.NormalizedContent, opts *renderOptions) error {
	switch opts.format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(content)
	case formatHTML:
		if err := document.WriteHTML(w, content.Document); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
		_, err := fmt.Fprintln(w)
		return err
	case formatTerm:
		out, err := termText(content, opts)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	}
	return fmt.Errorf("unknown format %q", opts.format)
}

// termText turns the math spans into code spans so glamour leaves the TeX
// alone, then renders the markdown.
func termText(content domain.NormalizedContent, opts *renderOptions) (string, error) {
	md := termMarkdown(content.Segments)
	if content.Failed() {
		md = "> " + content.Error + "\n\n" + md
	}
	if opts.plain {
		return md + "\n", nil
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(opts.style),
		glamour.WithWordWrap(opts.width),
	)
	if err != nil {
		return "", fmt.Errorf("create term renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

func termMarkdown(segs []mathseg.Segment) string {
	tex := mathtex.New(nil)
	var b strings.Builder
	for _, seg := range segs {
		if !seg.IsMath() {
			b.WriteString(seg.Source)
			continue
		}
		display := seg.Kind == mathseg.BlockMath
		_, err := tex.Typeset(seg.Text, display)
		switch {
		case display:
			b.WriteString("\n\n```tex\n" + strings.TrimSpace(seg.Text) + "\n```\n\n")
		case err != nil:
			b.WriteString("`" + seg.Source + "` ⚠")
		default:
			b.WriteString("`" + seg.Text + "`")
		}
	}
	return b.String()
}
