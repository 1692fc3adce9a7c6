package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailforge/internal/app"
	"github.com/foxzi/mailforge/internal/template"
)

var (
	templateOwner     string
	templateSearch    string
	templateLimit     int
	templateSaveFlags templateFlags
	templateSaveName  string
	templateOutput    string
	templateOutputDir string
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Saved template commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved templates, newest first",
	RunE:  runTemplateList,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templateSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a new template",
	RunE:  runTemplateSave,
}

var templateExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a saved template to an HTML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateExport,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

func init() {
	templateCmd.PersistentFlags().StringVar(&templateOwner, "owner", "", "Template owner (default: api.default_user)")

	templateListCmd.Flags().StringVar(&templateSearch, "search", "", "Only list templates whose title or body contains this text")
	templateListCmd.Flags().IntVar(&templateLimit, "limit", 0, "Maximum number of templates")

	templateSaveFlags.register(templateSaveCmd)
	templateSaveCmd.Flags().StringVar(&templateSaveName, "name", "", "Template name (default: title)")
	templateSaveCmd.MarkFlagRequired("title")

	templateExportCmd.Flags().StringVarP(&templateOutput, "output", "o", "", "Output file (default: <dir>/<title>.html)")
	templateExportCmd.Flags().StringVar(&templateOutputDir, "dir", ".", "Output directory")

	templateCmd.AddCommand(
		templateListCmd,
		templateShowCmd,
		templateSaveCmd,
		templateExportCmd,
		templateDeleteCmd,
	)
	rootCmd.AddCommand(templateCmd)
}

// getTemplateStorage opens the configured database. The returned owner is
// --owner or the configured default user.
func getTemplateStorage() (*template.Storage, string, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", nil, err
	}

	db, err := app.OpenDB(cfg.Storage.Path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open storage: %w", err)
	}

	storage, err := template.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, "", nil, fmt.Errorf("failed to create template storage: %w", err)
	}

	owner := templateOwner
	if owner == "" {
		owner = cfg.API.DefaultUser
	}

	cleanup := func() {
		db.Close()
	}

	return storage, owner, cleanup, nil
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	storage, owner, cleanup, err := getTemplateStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := storage.List(cmd.Context(), owner, template.ListFilter{
		Search: templateSearch,
		Limit:  templateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No templates found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFORMAT\tIMAGES\tCREATED")
	for _, rec := range records {
		name := rec.Name
		if len([]rune(name)) > 40 {
			name = string([]rune(name)[:37]) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			rec.ID,
			name,
			rec.Format,
			len(rec.Images),
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d templates\n", len(records))
	return nil
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	storage, owner, cleanup, err := getTemplateStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := storage.Get(cmd.Context(), owner, args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", rec.ID)
	fmt.Fprintf(out, "Name:     %s\n", rec.Name)
	fmt.Fprintf(out, "Subject:  %s\n", rec.Subject)
	fmt.Fprintf(out, "Owner:    %s\n", rec.Owner)
	fmt.Fprintf(out, "Format:   %s\n", rec.Format)
	fmt.Fprintf(out, "Created:  %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	if len(rec.Images) > 0 {
		fmt.Fprintf(out, "\nImages:\n")
		for i, url := range rec.Images {
			fmt.Fprintf(out, "  %d. %s\n", i+1, url)
		}
	}

	if rec.Body != "" {
		fmt.Fprintf(out, "\n--- Body ---\n%s\n", strings.TrimRight(rec.Body, "\n"))
	}
	if rec.Footer != "" {
		fmt.Fprintf(out, "\n--- Footer ---\n%s\n", strings.TrimRight(rec.Footer, "\n"))
	}

	return nil
}

func runTemplateSave(cmd *cobra.Command, args []string) error {
	m, err := templateSaveFlags.model()
	if err != nil {
		return err
	}

	storage, owner, cleanup, err := getTemplateStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	rec := template.NewRecord(m)
	if templateSaveName != "" {
		rec.Name = templateSaveName
	}
	if err := storage.Save(cmd.Context(), owner, rec); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Template saved successfully\n")
	fmt.Fprintf(out, "  ID:   %s\n", rec.ID)
	fmt.Fprintf(out, "  Name: %s\n", rec.Name)
	return nil
}

func runTemplateExport(cmd *cobra.Command, args []string) error {
	storage, owner, cleanup, err := getTemplateStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := storage.Get(cmd.Context(), owner, args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}

	m, err := rec.Model()
	if err != nil {
		return fmt.Errorf("stored template is invalid: %w", err)
	}

	path, err := writeDownload(template.Export(m), templateOutput, templateOutputDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	storage, owner, cleanup, err := getTemplateStorage()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := storage.Delete(cmd.Context(), owner, args[0]); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Template %s deleted\n", args[0])
	return nil
}
