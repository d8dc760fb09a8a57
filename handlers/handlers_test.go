package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"

	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/join"
	"github.com/aidingjing/shp-data/metrics"
	"github.com/aidingjing/shp-data/repair"
)

func mustGeom(t *testing.T, wkt string) *geos.Geom {
	t.Helper()
	g, err := geos.NewGeomFromWKT(wkt)
	require.NoError(t, err)
	return g
}

func layers(t *testing.T) (*feature.Collection, *feature.Collection) {
	t.Helper()
	src := feature.NewCollection("parcels", []string{"code"})
	src.Add(feature.Attributes{{Name: "code", Value: feature.Text("A")}}, mustGeom(t, "POLYGON((1 1, 2 1, 2 2, 1 2, 1 1))"))
	src.Add(feature.Attributes{{Name: "code", Value: feature.Text("B")}}, mustGeom(t, "POLYGON((0 0, 2 2, 0 2, 2 0, 0 0))"))
	src.Add(feature.Attributes{{Name: "code", Value: feature.Text("C")}}, mustGeom(t, "POLYGON((50 50, 51 50, 51 51, 50 51, 50 50))"))

	tgt := feature.NewCollection("zones", []string{"zone_id", "zone_name"})
	tgt.Add(feature.Attributes{
		{Name: "zone_id", Value: feature.Text("Z1")},
		{Name: "zone_name", Value: feature.Text("north")},
	}, mustGeom(t, "POLYGON((0 0, 10 0, 10 10, 0 10, 0 0))"))
	return src, tgt
}

func TestCheckGeometry(t *testing.T) {
	src, _ := layers(t)
	src.Add(feature.Attributes{{Name: "code", Value: feature.Text("D")}}, nil)

	errs, err := CheckGeometry(src, "code", repair.Default())
	require.NoError(t, err)
	require.Len(t, errs, 2)

	assert.Equal(t, 1, errs[0].Ref)
	assert.Equal(t, "B", errs[0].ID)
	assert.Contains(t, errs[0].ErrorMessage, "Self-intersection")
	assert.Equal(t, "buffered", errs[0].Repair)

	assert.Equal(t, 3, errs[1].Ref)
	assert.Equal(t, "missing geometry", errs[1].ErrorMessage)
	assert.Equal(t, "failed", errs[1].Repair)

	_, err = CheckGeometry(src, "OBJECTID", repair.Default())
	var cfgErr *feature.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunJoin(t *testing.T) {
	src, tgt := layers(t)
	res, err := RunJoin(context.Background(), JoinRequest{
		Source:      src,
		Target:      tgt,
		Options:     join.Options{SourceIDField: "code", TargetIDField: "zone_id", UseIndex: true},
		FieldPrefix: "target_",
	})
	require.NoError(t, err)

	require.Len(t, res.Records, 3)
	assert.Equal(t, join.Summary{Total: 3, Contained: 2, None: 1, SuccessRate: 2.0 / 3.0}, res.Summary)
	assert.Equal(t, "north", res.Table.Value(0, "target_zo1").String())
	assert.Equal(t, "Z1", res.Table.Value(1, "target_zon").String())
	assert.True(t, res.Table.Value(2, "target_zon").IsNull())
	assert.Len(t, res.Report.Rows, 3)
}

func TestRunJoin_PreflightError(t *testing.T) {
	src, _ := layers(t)
	_, err := RunJoin(context.Background(), JoinRequest{Source: src, Target: feature.NewCollection("empty", nil)})
	var empty *feature.EmptyCollectionError
	assert.ErrorAs(t, err, &empty)
}

func TestJoinResult_Write(t *testing.T) {
	src, tgt := layers(t)
	res, err := RunJoin(context.Background(), JoinRequest{Source: src, Target: tgt, FieldPrefix: "t_"})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	dir := t.TempDir()

	written, err := res.Write(filepath.Join(dir, "out.shp"), "shapefile", true, nil, m)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "out.shp"), filepath.Join(dir, "out_report.csv")}, written)
	assert.FileExists(t, filepath.Join(dir, "out.dbf"))

	written, err = res.Write(filepath.Join(dir, "out.geojson"), "geojson", false, nil, m)
	require.NoError(t, err)
	assert.Len(t, written, 1)

	written, err = res.Write(filepath.Join(dir, "report.csv"), "csv", true, nil, m)
	require.NoError(t, err)
	assert.Len(t, written, 1)

	_, err = res.Write(filepath.Join(dir, "out.kml"), "kml", false, nil, m)
	assert.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("shapefile", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("csv", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("kml", "error")))
}

func TestJoinResult_WriteRemovesLayerWhenReportFails(t *testing.T) {
	src, tgt := layers(t)
	res, err := RunJoin(context.Background(), JoinRequest{Source: src, Target: tgt, FieldPrefix: "t_"})
	require.NoError(t, err)

	for _, tc := range []struct{ format, file string }{
		{"shapefile", "out.shp"},
		{"geojson", "out.geojson"},
	} {
		t.Run(tc.format, func(t *testing.T) {
			dir := t.TempDir()
			// A directory where the report should go makes the final rename fail.
			require.NoError(t, os.Mkdir(filepath.Join(dir, "out_report.csv"), 0o755))

			m := metrics.New(prometheus.NewRegistry())
			written, err := res.Write(filepath.Join(dir, tc.file), tc.format, true, nil, m)
			require.Error(t, err)
			assert.Nil(t, written)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "out_report.csv", entries[0].Name())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("csv", "error")))
		})
	}
}

func TestJoinWithShapefile(t *testing.T) {
	src, tgt := layers(t)
	data, err := JoinWithShapefile(context.Background(), JoinRequest{Source: src, Target: tgt}, "joined", nil)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["joined.shp"])
	assert.True(t, names["joined.dbf"])
	assert.True(t, names["report.csv"])
	assert.True(t, names["summary.json"])
	assert.False(t, names["joined.prj"], "layers without a CRS get no .prj")
}
