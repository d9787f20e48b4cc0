package cmd

import (
	"fmt"
	"strings"

	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	resolveProccode   string
	resolveProccodeID string
	resolveSource     string
)

// catalogCmd groups the catalog commands
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the mapping catalog",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the catalog and report every problem",
	RunE:  runCatalogValidate,
}

var catalogResolveCmd = &cobra.Command{
	Use:     "resolve",
	Short:   "Show which template and processor a request resolves to",
	Example: `  taxrecon catalog resolve --proccode 180E10 --source BJB01`,
	RunE:    runCatalogResolve,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogValidateCmd, catalogResolveCmd)

	catalogResolveCmd.Flags().StringVarP(&resolveProccode, "proccode", "p", "", "transaction-type code")
	catalogResolveCmd.Flags().StringVar(&resolveProccodeID, "proccode-id", "", "catalog proccode id")
	catalogResolveCmd.Flags().StringVarP(&resolveSource, "source", "s", "", "source bank code")
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Catalog %s is valid\n", settings.CatalogPath)
	fmt.Fprintf(out, "  Templates:      %d\n", len(cat.Templates))
	fmt.Fprintf(out, "  Proccodes:      %d\n", len(cat.Proccodes))
	fmt.Fprintf(out, "  Response codes: %s\n", describeWhitelist(cat))

	registry := processors.DefaultRegistry()
	for _, name := range cat.Processors() {
		if _, err := registry.Lookup(name); err != nil {
			fmt.Fprintf(out, "  Warning: processor %q is not registered, its templates run declaratively\n", name)
		}
	}
	return nil
}

func runCatalogResolve(cmd *cobra.Command, args []string) error {
	proccodeID, err := proccodeIDFlag(resolveProccodeID)
	if err != nil {
		return err
	}
	if proccodeID == nil && strings.TrimSpace(resolveProccode) == "" {
		return errors.ValidationError(errors.CodeMissingField, "proccode", "", nil)
	}

	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	res := processors.Resolve(cat, strings.TrimSpace(resolveProccode), strings.TrimSpace(resolveSource), proccodeID)

	out := cmd.OutOrStdout()
	if res.Proccode == nil {
		fmt.Fprintf(out, "No proccode matches; records pass through unprocessed\n")
		return nil
	}
	fmt.Fprintf(out, "Proccode:  #%d %s (%s)", res.Proccode.ID, res.Proccode.Code, res.Proccode.Source)
	if res.Proccode.District != "" {
		fmt.Fprintf(out, " district %s", res.Proccode.District)
	}
	fmt.Fprintf(out, "\n")

	if res.Template == nil {
		fmt.Fprintf(out, "Template:  none; records pass through unprocessed\n")
	} else {
		fmt.Fprintf(out, "Template:  #%d %s / %s\n", res.Template.ID, res.Template.Vendor, res.Template.Category)
		fmt.Fprintf(out, "Columns:   %s\n", strings.Join(res.MappingConfig.Labels(), ", "))
	}
	fmt.Fprintf(out, "Strategy:  %s\n", res.Strategy)
	return nil
}

func describeWhitelist(cat *catalog.Catalog) string {
	w := cat.Whitelist()
	if w.IsEmpty() {
		return "any"
	}
	return w.String()
}
