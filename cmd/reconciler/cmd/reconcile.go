package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tiss-reconciliation-service/cmd/reconciler/config"
	"tiss-reconciliation-service/internal/reconciler"
	"tiss-reconciliation-service/internal/reporter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	xmlFiles       []string
	statementFiles []string
	outputFormat   string
	outputFile     string

	tolerance           float64
	descriptionFallback bool
	stripLeadingZeros   bool
	mappingFile         string
	delimiter           string

	topN         int
	minPresented float64
	simulate     []string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile TISS billing guides with payment statements",
	Long: `Reconcile extracts billed procedure items from TISS guide XML files and
matches them against payer payment-statement rows to identify denials,
partial payments and unbilled items.

This command requires:
- One or more TISS guide XML files (guiaConsulta or guiaSP-SADT)
- One or more payment statement files (delimited text)

Examples:
  # Basic reconciliation
  reconciler reconcile --xml-files lote1.xml --statement-files demo.csv

  # Several lots, JSON output to a file
  reconciler reconcile --xml-files lote1.xml,lote2.xml --statement-files demo.csv \
    --output-format json --output-file report.json

  # Enable the description+value fallback tier with a wider tolerance
  reconciler reconcile --xml-files lote.xml --statement-files demo.csv \
    --description-fallback --tolerance 0.05

  # Simulate recovering 80% of code 1201 denials and all of code 1001
  reconciler reconcile --xml-files lote.xml --statement-files demo.csv \
    --simulate 1201=0.2,1001=0`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringSliceVarP(&xmlFiles, "xml-files", "x", []string{}, "comma-separated paths to TISS guide XML files (required)")
	reconcileCmd.Flags().StringSliceVarP(&statementFiles, "statement-files", "s", []string{}, "comma-separated paths to payment statement files (required)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Matching configuration flags
	reconcileCmd.Flags().Float64VarP(&tolerance, "tolerance", "t", 0.02, "monetary tolerance for the description+value fallback tier")
	reconcileCmd.Flags().BoolVar(&descriptionFallback, "description-fallback", false, "enable description+value fallback matching")
	reconcileCmd.Flags().BoolVar(&stripLeadingZeros, "strip-leading-zeros", false, "strip leading zeros when normalizing procedure codes")

	// Statement layout flags
	reconcileCmd.Flags().StringVar(&mappingFile, "mapping-file", "", "path to the persisted column-mapping store (JSON)")
	reconcileCmd.Flags().StringVar(&delimiter, "delimiter", ";", "field delimiter of the statement files")

	// Analytics flags
	reconcileCmd.Flags().IntVar(&topN, "top-n", 10, "number of rows in ranking tables")
	reconcileCmd.Flags().Float64Var(&minPresented, "min-presented", 100, "presented-value floor for the denial-rate ranking")
	reconcileCmd.Flags().StringSliceVar(&simulate, "simulate", []string{}, "recovery factors per denial code (code=factor,...)")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("xml-files")
	reconcileCmd.MarkFlagRequired("statement-files")

	// Bind flags to viper
	viper.BindPFlag("xml-files", reconcileCmd.Flags().Lookup("xml-files"))
	viper.BindPFlag("statement-files", reconcileCmd.Flags().Lookup("statement-files"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("tolerance", reconcileCmd.Flags().Lookup("tolerance"))
	viper.BindPFlag("description-fallback", reconcileCmd.Flags().Lookup("description-fallback"))
	viper.BindPFlag("strip-leading-zeros", reconcileCmd.Flags().Lookup("strip-leading-zeros"))
	viper.BindPFlag("mapping-file", reconcileCmd.Flags().Lookup("mapping-file"))
	viper.BindPFlag("delimiter", reconcileCmd.Flags().Lookup("delimiter"))
	viper.BindPFlag("top-n", reconcileCmd.Flags().Lookup("top-n"))
	viper.BindPFlag("min-presented", reconcileCmd.Flags().Lookup("min-presented"))
	viper.BindPFlag("simulate", reconcileCmd.Flags().Lookup("simulate"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	xmlFiles = viper.GetStringSlice("xml-files")
	statementFiles = viper.GetStringSlice("statement-files")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	tolerance = viper.GetFloat64("tolerance")
	descriptionFallback = viper.GetBool("description-fallback")
	stripLeadingZeros = viper.GetBool("strip-leading-zeros")
	mappingFile = viper.GetString("mapping-file")
	delimiter = viper.GetString("delimiter")
	topN = viper.GetInt("top-n")
	minPresented = viper.GetFloat64("min-presented")
	simulate = viper.GetStringSlice("simulate")

	// Validate required flags
	if len(xmlFiles) == 0 {
		return fmt.Errorf("at least one xml-file is required")
	}
	if len(statementFiles) == 0 {
		return fmt.Errorf("at least one statement-file is required")
	}

	// Validate file existence
	for i, f := range xmlFiles {
		if err := validateFileExists(f, fmt.Sprintf("TISS guide file %d", i+1)); err != nil {
			return err
		}
	}
	for i, f := range statementFiles {
		if err := validateFileExists(f, fmt.Sprintf("statement file %d", i+1)); err != nil {
			return err
		}
	}

	// Validate output format
	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	// Validate tolerances
	if tolerance < 0 {
		return fmt.Errorf("tolerance cannot be negative")
	}
	if minPresented < 0 {
		return fmt.Errorf("min-presented cannot be negative")
	}
	if topN <= 0 {
		return fmt.Errorf("top-n must be positive")
	}
	if len(delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character")
	}

	// Validate simulation factors early so typos fail before processing
	if _, err := config.ParseSimulationFactors(simulate); err != nil {
		return err
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "TISS guide files: %s\n", strings.Join(xmlFiles, ", "))
		fmt.Fprintf(os.Stderr, "Statement files: %s\n", strings.Join(statementFiles, ", "))
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Create configurations
	pipelineConfig := config.CreatePipelineConfig(config.PipelineFlags{
		Tolerance:           tolerance,
		DescriptionFallback: descriptionFallback,
		StripLeadingZeros:   stripLeadingZeros,
		MappingFile:         mappingFile,
		Delimiter:           rune(delimiter[0]),
	})

	// Create reconciliation service
	service, err := reconciler.NewService(pipelineConfig)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation service: %w", err)
	}

	// Create reconciliation request
	request := &reconciler.Request{
		XMLFiles:       xmlFiles,
		StatementFiles: statementFiles,
	}

	result, err := service.ProcessReconciliation(ctx, request)
	if err != nil {
		return err
	}

	// Generate report
	reportConfig, err := config.CreateReportConfig(outputFormat, topN, minPresented, simulate)
	if err != nil {
		return err
	}
	generator, err := reporter.NewGenerator(reportConfig)
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := generator.Generate(output, result); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	// Show completion message
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(os.Stderr, "Processed %d billing items and %d statement rows.\n",
			result.Summary.BillingItems, result.Summary.StatementRows)
		fmt.Fprintf(os.Stderr, "Found %d reconciled pairs and %d unmatched items.\n",
			len(result.Reconciled), len(result.Unmatched))
		if len(result.FileErrors) > 0 {
			fmt.Fprintf(os.Stderr, "Skipped %d unreadable files.\n", len(result.FileErrors))
		}
	}

	return nil
}
