package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailforge/internal/template"
)

// templateFlags are the raw template fields accepted on the command line.
type templateFlags struct {
	title      string
	body       string
	bodyFile   string
	footer     string
	footerFile string
	format     string
	images     []string
}

func (f *templateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Template title (required)")
	cmd.Flags().StringVar(&f.body, "body", "", "Body text")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "Read body from file")
	cmd.Flags().StringVar(&f.footer, "footer", "", "Footer text")
	cmd.Flags().StringVar(&f.footerFile, "footer-file", "", "Read footer from file")
	cmd.Flags().StringVar(&f.format, "format", "text", "Body format: text, html, markdown")
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "Image URL (repeatable, order is kept)")
}

// model reads any referenced files and normalizes the fields.
func (f *templateFlags) model() (template.Model, error) {
	body, err := flagOrFile(f.body, f.bodyFile)
	if err != nil {
		return template.Model{}, err
	}
	footer, err := flagOrFile(f.footer, f.footerFile)
	if err != nil {
		return template.Model{}, err
	}

	title := f.title
	m, err := template.Normalize(template.Input{
		Title:  &title,
		Body:   &body,
		Footer: &footer,
		Images: f.images,
		Format: f.format,
	})
	if err != nil {
		return template.Model{}, fmt.Errorf("invalid template: %w", err)
	}
	return m, nil
}

func flagOrFile(value, path string) (string, error) {
	if path == "" {
		return value, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

var (
	renderFlags  templateFlags
	renderOutput string

	exportFlags  templateFlags
	exportOutput string
	exportDir    string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a template to HTML",
	Long: `Render a template to its HTML document and write it to stdout or a file.

Examples:
  mailforge render --title "Spring sale" --body "Hello" --image https://cdn.example.com/a.png
  mailforge render --title "Digest" --body-file digest.md --format markdown -o digest.html`,
	RunE: runRender,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a template as a downloadable HTML file",
	Long: `Export writes the same document as render to a file named after the title.`,
	RunE: runExport,
}

func init() {
	renderFlags.register(renderCmd)
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output file (default: stdout)")
	renderCmd.MarkFlagRequired("title")

	exportFlags.register(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: <dir>/<title>.html)")
	exportCmd.Flags().StringVar(&exportDir, "dir", ".", "Output directory")
	exportCmd.MarkFlagRequired("title")

	rootCmd.AddCommand(renderCmd, exportCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	m, err := renderFlags.model()
	if err != nil {
		return err
	}

	html := template.Render(m)
	if renderOutput == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), html)
		return err
	}

	if err := os.WriteFile(renderOutput, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Rendered to %s\n", renderOutput)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	m, err := exportFlags.model()
	if err != nil {
		return err
	}

	path, err := writeDownload(template.Export(m), exportOutput, exportDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
	return nil
}

// writeDownload stores d at output, or under dir with its own file name.
func writeDownload(d template.Download, output, dir string) (string, error) {
	path := output
	if path == "" {
		path = filepath.Join(dir, d.FileName)
	}
	if err := os.WriteFile(path, d.Bytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}
