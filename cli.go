package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tj/go-spin"
	"go.uber.org/zap"

	"github.com/aidingjing/shp-data/config"
	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/handlers"
	"github.com/aidingjing/shp-data/join"
	"github.com/aidingjing/shp-data/logging"
	"github.com/aidingjing/shp-data/metrics"
	"github.com/aidingjing/shp-data/repair"
	"github.com/aidingjing/shp-data/schema"
)

// Version is set at build time with -ldflags.
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	cmd := &cobra.Command{
		Use:           "shp-data",
		Short:         "Attach attributes of enclosing polygons to a polygon layer",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path (YAML)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newJoinCommand(a), newInspectCommand(a), newServeCommand(a))
	return cmd
}

func (a *app) setup(opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return nil
}

func (a *app) repairer() repair.Repairer {
	return repair.Repairer{
		SimplifyTolerance: a.cfg.Repair.SimplifyTolerance,
		QuadSegs:          a.cfg.Repair.QuadSegs,
	}
}

func (a *app) encoder() (*schema.Encoder, error) {
	if a.cfg.Export.VocabularyFile == "" {
		return schema.DefaultEncoder(), nil
	}
	vocab, err := schema.LoadVocabulary(a.cfg.Export.VocabularyFile)
	if err != nil {
		return nil, err
	}
	return schema.NewEncoder(vocab), nil
}

type joinOptions struct {
	output   string
	sourceID string
	targetID string
	prefix   string
	format   string
	workers  int
	noIndex  bool
	noReport bool
	vocab    string
	quiet    bool
}

func newJoinCommand(a *app) *cobra.Command {
	opts := &joinOptions{}
	cmd := &cobra.Command{
		Use:   "join SOURCE TARGET",
		Short: "Join TARGET attributes onto every SOURCE polygon",
		Long: "For each SOURCE polygon, find the first TARGET polygon that contains it,\n" +
			"or else the one it overlaps most, and write SOURCE with that target's\n" +
			"attributes appended. Layers may be shapefiles or GeoJSON.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyJoinFlags(cmd, a.cfg, opts)
			return runJoin(cmd, a, opts, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "output path (required)")
	f.StringVar(&opts.sourceID, "source-id", "", "source id field (default: feature position)")
	f.StringVar(&opts.targetID, "target-id", "", "target id field (default: feature position)")
	f.StringVar(&opts.prefix, "prefix", "", "prefix for joined target fields")
	f.StringVarP(&opts.format, "format", "f", "", "output format: shapefile, geojson or csv (default from output extension)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "concurrent source features")
	f.BoolVar(&opts.noIndex, "no-index", false, "test every target instead of using the R-tree prefilter")
	f.BoolVar(&opts.noReport, "no-report", false, "skip the flat CSV report")
	f.StringVar(&opts.vocab, "vocabulary", "", "YAML file of extra field-name abbreviations")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "no progress spinner")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// applyJoinFlags lets explicitly set flags override the configuration.
func applyJoinFlags(cmd *cobra.Command, cfg *config.Config, opts *joinOptions) {
	f := cmd.Flags()
	if f.Changed("source-id") {
		cfg.Join.SourceIDField = opts.sourceID
	}
	if f.Changed("target-id") {
		cfg.Join.TargetIDField = opts.targetID
	}
	if f.Changed("prefix") {
		cfg.Export.FieldPrefix = opts.prefix
	}
	if f.Changed("workers") {
		cfg.Join.Workers = opts.workers
	}
	if f.Changed("no-index") {
		cfg.Join.UseIndex = !opts.noIndex
	}
	if f.Changed("no-report") {
		cfg.Export.Report = !opts.noReport
	}
	if f.Changed("vocabulary") {
		cfg.Export.VocabularyFile = opts.vocab
	}
	switch {
	case f.Changed("format"):
		cfg.Export.Format = opts.format
	default:
		if format := formatFromPath(opts.output); format != "" {
			cfg.Export.Format = format
		}
	}
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return "shapefile"
	case ".geojson", ".json":
		return "geojson"
	case ".csv":
		return "csv"
	default:
		return ""
	}
}

func runJoin(cmd *cobra.Command, a *app, opts *joinOptions, sourcePath, targetPath string) error {
	source, err := feature.Load(sourcePath)
	if err != nil {
		return err
	}
	target, err := feature.Load(targetPath)
	if err != nil {
		return err
	}
	enc, err := a.encoder()
	if err != nil {
		return err
	}

	var progress func(done, total int)
	var sp *spinner
	if !opts.quiet {
		sp = newSpinner(cmd.ErrOrStderr())
		progress = sp.update
	}

	res, err := handlers.RunJoin(cmd.Context(), handlers.JoinRequest{
		Source: source,
		Target: target,
		Options: join.Options{
			SourceIDField: a.cfg.Join.SourceIDField,
			TargetIDField: a.cfg.Join.TargetIDField,
			Repairer:      a.repairer(),
			UseIndex:      a.cfg.Join.UseIndex,
			Workers:       a.cfg.Join.Workers,
			Progress:      progress,
			Logger:        a.log,
			Metrics:       a.metrics,
		},
		FieldPrefix: a.cfg.Export.FieldPrefix,
		Encoder:     enc,
	})
	if sp != nil {
		sp.done()
	}
	if err != nil {
		return err
	}

	written, err := res.Write(opts.output, a.cfg.Export.Format, a.cfg.Export.Report, a.log, a.metrics)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := res.Summary
	fmt.Fprintf(out, "total %d  contained %d  partial %d  none %d  success %.1f%%\n",
		s.Total, s.Contained, s.Partial, s.None, s.SuccessRate*100)
	for _, path := range written {
		fmt.Fprintln(out, "wrote", path)
	}
	return nil
}

// spinner draws a one-line progress indicator; update may be called from
// several workers at once.
type spinner struct {
	mu   sync.Mutex
	w    io.Writer
	s    *spin.Spinner
	last int
}

func newSpinner(w io.Writer) *spinner {
	s := spin.New()
	s.Set(spin.Box1)
	return &spinner{w: w, s: s}
}

func (sp *spinner) update(done, total int) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if done <= sp.last {
		return
	}
	sp.last = done
	step := max(total/200, 1)
	if done%step != 0 && done != total {
		return
	}
	fmt.Fprintf(sp.w, "\r  %s matching %d/%d", sp.s.Next(), done, total)
}

func (sp *spinner) done() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.last > 0 {
		fmt.Fprintln(sp.w)
	}
}

func newInspectCommand(a *app) *cobra.Command {
	var (
		check   bool
		idField string
	)
	cmd := &cobra.Command{
		Use:   "inspect LAYER...",
		Short: "Describe layers and optionally list invalid geometries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type report struct {
				feature.LayerInfo
				Invalid []handlers.Error `json:"invalid,omitempty"`
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, path := range args {
				c, err := feature.Load(path)
				if err != nil {
					return err
				}
				r := report{LayerInfo: feature.Describe(c)}
				if check {
					if r.Invalid, err = handlers.CheckGeometry(c, idField, a.repairer()); err != nil {
						return err
					}
				}
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "validate every geometry")
	cmd.Flags().StringVar(&idField, "id", "", "id field used when listing invalid geometries")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the join over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			enc, err := a.encoder()
			if err != nil {
				return err
			}
			return newServer(a, enc).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
