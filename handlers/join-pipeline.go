package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/aidingjing/shp-data/export"
	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/join"
	"github.com/aidingjing/shp-data/metrics"
	"github.com/aidingjing/shp-data/schema"
)

// JoinRequest is everything needed for one join run.
type JoinRequest struct {
	Source      *feature.Collection
	Target      *feature.Collection
	Options     join.Options
	FieldPrefix string
	Encoder     *schema.Encoder
}

// JoinResult holds the records of a run and the tables derived from them.
type JoinResult struct {
	Records []join.MatchRecord
	Summary join.Summary
	Table   *export.Table
	Report  *export.Report
}

// RunJoin joins the request's layers and builds the augmented table and the
// flat report. A GEOS panic that escapes the engine is returned as an error.
func RunJoin(ctx context.Context, req JoinRequest) (result *JoinResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("join panicked: %v", r)
		}
	}()

	records, err := join.NewEngine(req.Options).Join(ctx, req.Source, req.Target)
	if err != nil {
		return nil, err
	}

	enc := req.Encoder
	if enc == nil {
		enc = schema.DefaultEncoder()
	}
	sch := enc.NewSchema()
	table, err := export.Augment(sch, req.Source, records, req.FieldPrefix)
	if err != nil {
		return nil, err
	}
	if log := req.Options.Logger; log != nil {
		for _, e := range sch.Entries() {
			if e.Encoded != e.Prefix+e.Name {
				log.Debug("field renamed",
					zap.String("field", e.Name),
					zap.String("prefix", e.Prefix),
					zap.String("encoded", e.Encoded))
			}
		}
	}

	return &JoinResult{
		Records: records,
		Summary: join.Summarize(records),
		Table:   table,
		Report:  export.ToFlatReport(records),
	}, nil
}

// Write stores the augmented table at path in format (shapefile, geojson or
// csv) and, when withReport is set and the format is not csv already, the
// flat report next to it as <name>_report.csv. It returns the files written.
// If the report cannot be written the layer is removed again, so either
// both outputs exist or neither does.
func (res *JoinResult) Write(path, format string, withReport bool, log *zap.Logger, m *metrics.Metrics) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var (
		written []string
		err     error
	)
	switch format {
	case "shapefile":
		err = export.WriteShapefile(path, res.Table)
	case "geojson":
		err = export.WriteGeoJSON(path, res.Table)
	case "csv":
		err = export.WriteCSV(path, res.Report)
		withReport = false
	default:
		err = fmt.Errorf("unknown export format %q", format)
	}
	m.ObserveExport(format, err)
	if err != nil {
		return nil, err
	}
	written = append(written, path)
	log.Info("layer written", zap.String("path", path), zap.String("format", format), zap.Int("features", len(res.Table.Rows)))

	if withReport {
		reportPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_report.csv"
		err := export.WriteCSV(reportPath, res.Report)
		m.ObserveExport("csv", err)
		if err != nil {
			if format == "shapefile" {
				export.RemoveShapefile(path)
			} else {
				os.Remove(path)
			}
			log.Warn("report failed, layer removed", zap.String("path", path), zap.Error(err))
			return nil, err
		}
		written = append(written, reportPath)
		log.Info("report written", zap.String("path", reportPath), zap.Int("rows", len(res.Report.Rows)))
	}
	return written, nil
}

// JoinWithShapefile runs the join and returns the zipped shapefile, report
// and summary.
func JoinWithShapefile(ctx context.Context, req JoinRequest, name string, m *metrics.Metrics) ([]byte, error) {
	res, err := RunJoin(ctx, req)
	if err != nil {
		return nil, err
	}
	zipData, err := export.Bundle(name, res.Table, res.Report, res.Summary)
	m.ObserveExport("bundle", err)
	if err != nil {
		return nil, fmt.Errorf("failed to generate shapefile zip: %w", err)
	}
	return zipData, nil
}
