// Package main provides the footprint CLI: inspection, explanation,
// migration and storage of persisted model documents.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/Boavizta/e-footprint-sub000/codec"
	"github.com/Boavizta/e-footprint-sub000/config"
	"github.com/Boavizta/e-footprint-sub000/explain"
	"github.com/Boavizta/e-footprint-sub000/store"
)

// Version is the current footprint CLI version
var Version = "0.3.0"

var (
	cfg    *config.Config
	logger hclog.Logger

	configPath string
	dbPath     string

	inspectAttrs []string
	inspectJSON  bool

	checksumVerify bool

	migrateTable  string
	migrateOutput string

	saveName   string
	loadOutput string
)

var rootCmd = &cobra.Command{
	Use:     "footprint",
	Short:   "Inspect, explain and store footprint model documents",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		logger = cfg.Logger("footprint")
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <document>",
	Short: "List the attributes of a document",
	Long: `List every attribute value of a document.

Filter with --attr glob patterns over kind/entity/attribute paths:
  footprint inspect model.json --attr 'Server/*/total_*'
  footprint inspect model.json --attr '**/hourly_energy/**'`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var explainCmd = &cobra.Command{
	Use:   "explain <document> <entity> <attribute> [key]",
	Short: "Show how an attribute was computed",
	Args:  cobra.RangeArgs(3, 4),
	RunE:  runExplain,
}

var checksumCmd = &cobra.Command{
	Use:   "checksum <document>",
	Short: "Print or verify the checksum of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runChecksum,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <document>",
	Short: "Rewrite an older document with a migration table",
	Args:  cobra.ExactArgs(1),
	RunE:  runMigrate,
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Store documents in a SQLite database",
}

var dbSaveCmd = &cobra.Command{
	Use:   "save <document>",
	Short: "Save a document under a name",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBSave,
}

var dbLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Write a saved document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBLoad,
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved documents",
	Args:  cobra.NoArgs,
	RunE:  runDBList,
}

var dbRemoveCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a saved document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDBRemove,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database (overrides configuration)")

	inspectCmd.Flags().StringArrayVar(&inspectAttrs, "attr", nil, "Glob over kind/entity/attribute paths (repeatable)")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	checksumCmd.Flags().BoolVar(&checksumVerify, "verify", false, "Fail if the manifest checksum does not match")
	migrateCmd.Flags().StringVar(&migrateTable, "table", "", "Migration table (defaults to the configured one)")
	migrateCmd.Flags().StringVarP(&migrateOutput, "output", "o", "", "Output file (default: stdout)")
	dbSaveCmd.Flags().StringVar(&saveName, "name", "", "Name to save under (default: document file name)")
	dbLoadCmd.Flags().StringVarP(&loadOutput, "output", "o", "", "Output file (default: stdout)")

	dbCmd.AddCommand(dbSaveCmd, dbLoadCmd, dbListCmd, dbRemoveCmd)
	rootCmd.AddCommand(inspectCmd, explainCmd, checksumCmd, migrateCmd, dbCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readDocument(path string) (*codec.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := codec.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(cmd *cobra.Command, doc *codec.Document, path string) error {
	if path == "" {
		return doc.Write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := doc.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// attrPath is the path --attr patterns match against.
func attrPath(kind string, e *codec.EntityRecord, attr, key string) string {
	p := kind + "/" + e.Name + "/" + attr
	if key != "" {
		p += "/" + key
	}
	return p
}

func matches(patterns []string, path string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, pat := range patterns {
		ok, err := doublestar.Match(pat, path)
		if err != nil {
			return false, fmt.Errorf("pattern %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type inspectRow struct {
	Path   string `json:"path"`
	Entity string `json:"entity_id"`
	Label  string `json:"label"`
	Value  string `json:"value"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	var rows []inspectRow
	err = doc.Walk(func(kind, id string, e *codec.EntityRecord, attr, key string, rec *codec.Record) error {
		path := attrPath(kind, e, attr, key)
		ok, err := matches(inspectAttrs, path)
		if err != nil || !ok {
			return err
		}
		v, err := codec.DecodeValue(rec.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		rows = append(rows, inspectRow{Path: path, Entity: id, Label: rec.Label, Value: v.String()})
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debug("inspected document", "path", args[0], "rows", len(rows))

	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tLABEL\tVALUE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Path, r.Label, r.Value)
	}
	return w.Flush()
}

func runExplain(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	entity, attr := args[1], args[2]
	var key string
	if len(args) == 4 {
		key = args[3]
	}

	var found *codec.Record
	var subject string
	err = doc.Walk(func(kind, id string, e *codec.EntityRecord, a, k string, rec *codec.Record) error {
		if (id == entity || e.Name == entity) && a == attr && k == key {
			if found != nil {
				return fmt.Errorf("%q names more than one entity; use the entity id", entity)
			}
			found = rec
			subject = fmt.Sprintf("%s of %s %q", attr, kind, e.Name)
			if key != "" {
				subject += " [" + key + "]"
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("no attribute %s%s on %q", attr, keySuffix(key), entity)
	}
	d, err := explain.FromRecord(found, subject)
	if err != nil {
		return err
	}
	d.Print(cmd.OutOrStdout())
	if found.Formula == nil && !doc.Manifest.Provenance {
		fmt.Fprintln(cmd.ErrOrStderr(), "document was saved without provenance; only the value is known")
	}
	return nil
}

func keySuffix(key string) string {
	if key == "" {
		return ""
	}
	return "[" + key + "]"
}

func runChecksum(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	if checksumVerify {
		if err := codec.Verify(doc); err != nil {
			return err
		}
		if doc.Manifest.Checksum == "" {
			return fmt.Errorf("%s has no checksum", args[0])
		}
	}
	sum, err := codec.Checksum(doc)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if migrateTable != "" {
		cfg.MigrationsPath = migrateTable
	}
	opts, err := cfg.CodecOptions("footprint "+Version, logger)
	if err != nil {
		return err
	}
	if opts.Migrations == nil {
		return fmt.Errorf("no migration table: pass --table or set FOOTPRINT_MIGRATIONS")
	}
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	if err := codec.Verify(doc); err != nil {
		return err
	}
	from := doc.Manifest.SchemaVersion
	changed, err := codec.Migrate(doc, opts.Migrations)
	if err != nil {
		return err
	}
	logger.Info("document migrated", "from_version", from, "to_version", doc.Manifest.SchemaVersion, "records", changed)
	return writeDocument(cmd, doc, migrateOutput)
}

func openStore() (*store.DB, error) {
	return store.Open(cfg.DBPath, store.WithBusyTimeout(cfg.BusyTimeout), store.WithLogger(logger.Named("store")))
}

func runDBSave(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	if err := codec.Verify(doc); err != nil {
		return err
	}
	name := saveName
	if name == "" {
		name = documentName(args[0])
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Save(context.Background(), name, doc); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d records)\n", name, doc.Len())
	return nil
}

func documentName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".json")
}

func runDBLoad(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	doc, err := db.Load(context.Background(), args[0])
	if err != nil {
		return err
	}
	return writeDocument(cmd, doc, loadOutput)
}

func runDBList(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	models, err := db.List(context.Background())
	if err != nil {
		return err
	}
	return printModels(cmd.OutOrStdout(), models)
}

func printModels(out io.Writer, models []store.Summary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tENTITIES\tRECORDS\tCHECKSUM\tSAVED")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n", m.Name, m.SchemaVersion, m.Entities, m.Records, shortSum(m.Checksum), m.SavedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// shortSum safely truncates a checksum to 12 characters.
func shortSum(s string) string {
	if len(s) >= 12 {
		return s[:12]
	}
	return s
}

func runDBRemove(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
