package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/schema-cli/internal/model"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Inspect and load the site taxonomy",
	Long:  "The taxonomy (domains, page types, categories) validates batch rows and scopes generation rules.",
}

// taxonomyDoc is the YAML wire form for taxonomy import.
type taxonomyDoc struct {
	Domains []struct {
		Name   string `yaml:"name"`
		Active *bool  `yaml:"active"`
	} `yaml:"domains"`
	PageTypes []struct {
		ID     string `yaml:"id"`
		Label  string `yaml:"label"`
		Domain string `yaml:"domain"`
		Active *bool  `yaml:"active"`
	} `yaml:"page_types"`
	Categories []struct {
		ID       string `yaml:"id"`
		Label    string `yaml:"label"`
		PageType string `yaml:"page_type"`
		Active   *bool  `yaml:"active"`
	} `yaml:"categories"`
}

func activeDefault(p *bool) bool {
	return p == nil || *p
}

// -- taxonomy list --

var taxonomyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored taxonomy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		domains, err := st.ListDomains(ctx)
		if err != nil {
			return eris.Wrap(err, "taxonomy list domains")
		}
		pageTypes, err := st.ListPageTypes(ctx, false)
		if err != nil {
			return eris.Wrap(err, "taxonomy list page types")
		}
		categories, err := st.ListCategories(ctx, false)
		if err != nil {
			return eris.Wrap(err, "taxonomy list categories")
		}

		if len(domains) == 0 {
			fmt.Fprintln(os.Stderr, "Taxonomy is empty; load one with `schema-cli taxonomy import`.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, d := range domains {
			fmt.Fprintf(w, "%s\t(domain, active=%v)\n", d.Name, d.Active)
			for _, pt := range pageTypes {
				if pt.Domain != d.Name {
					continue
				}
				fmt.Fprintf(w, "  %s\t%s (active=%v)\n", pt.ID, pt.Label, pt.Active)
				for _, c := range categories {
					if c.PageTypeID != pt.ID {
						continue
					}
					fmt.Fprintf(w, "    %s\t%s (active=%v)\n", c.ID, c.Label, c.Active)
				}
			}
		}
		return w.Flush()
	},
}

// -- taxonomy import --

var taxonomyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the stored taxonomy from a YAML file",
	Long:  "Replaces the full taxonomy in one step. Entries omitted from the file are removed; existing runs keep their recorded values.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read taxonomy file")
		}
		var doc taxonomyDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return eris.Wrap(err, "parse taxonomy yaml")
		}
		if len(doc.Domains) == 0 {
			return eris.New("taxonomy file declares no domains")
		}

		domains := make([]model.Domain, 0, len(doc.Domains))
		for _, d := range doc.Domains {
			if d.Name == "" {
				return eris.New("taxonomy: domain without a name")
			}
			domains = append(domains, model.Domain{Name: d.Name, Active: activeDefault(d.Active)})
		}
		pageTypes := make([]model.PageType, 0, len(doc.PageTypes))
		for _, pt := range doc.PageTypes {
			if pt.ID == "" || pt.Domain == "" {
				return eris.Errorf("taxonomy: page type %q needs id and domain", pt.Label)
			}
			pageTypes = append(pageTypes, model.PageType{
				ID: pt.ID, Label: pt.Label, Domain: pt.Domain, Active: activeDefault(pt.Active),
			})
		}
		categories := make([]model.Category, 0, len(doc.Categories))
		for _, c := range doc.Categories {
			if c.ID == "" || c.PageType == "" {
				return eris.Errorf("taxonomy: category %q needs id and page_type", c.Label)
			}
			categories = append(categories, model.Category{
				ID: c.ID, Label: c.Label, PageTypeID: c.PageType, Active: activeDefault(c.Active),
			})
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ReplaceTaxonomy(ctx, domains, pageTypes, categories); err != nil {
			return eris.Wrap(err, "taxonomy import")
		}
		fmt.Printf("Imported %d domains, %d page types, %d categories\n",
			len(domains), len(pageTypes), len(categories))
		return nil
	},
}

func init() {
	taxonomyCmd.AddCommand(taxonomyListCmd, taxonomyImportCmd)
	rootCmd.AddCommand(taxonomyCmd)
}
