package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aidingjing/shp-data/config"
	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/handlers"
	"github.com/aidingjing/shp-data/metrics"
	"github.com/aidingjing/shp-data/schema"
)

const sourceGeoJSON = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::4490"}},
  "features": [
    {"type": "Feature", "properties": {"code": "A", "名称": "东湖"},
     "geometry": {"type": "Polygon", "coordinates": [[[1,1],[2,1],[2,2],[1,2],[1,1]]]}},
    {"type": "Feature", "properties": {"code": "B", "名称": "西山"},
     "geometry": {"type": "Polygon", "coordinates": [[[8,0],[14,0],[14,4],[8,4],[8,0]]]}},
    {"type": "Feature", "properties": {"code": "C", "名称": null},
     "geometry": {"type": "Polygon", "coordinates": [[[50,50],[51,50],[51,51],[50,51],[50,50]]]}}
  ]
}`

const targetGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"zone_id": "Z1", "zone_name": "north"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"zone_id": "Z2", "zone_name": "east"},
     "geometry": {"type": "Polygon", "coordinates": [[[10,0],[20,0],[20,10],[10,10],[10,0]]]}}
  ]
}`

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	return &app{cfg: cfg, log: zap.NewNop(), registry: reg, metrics: metrics.New(reg)}
}

func writeLayers(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "parcels.geojson")
	tgt := filepath.Join(dir, "zones.geojson")
	require.NoError(t, os.WriteFile(src, []byte(sourceGeoJSON), 0o644))
	require.NoError(t, os.WriteFile(tgt, []byte(targetGeoJSON), 0o644))
	return dir, src, tgt
}

func TestJoinCommand(t *testing.T) {
	dir, src, tgt := writeLayers(t)
	out := filepath.Join(dir, "joined.shp")

	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"join", src, tgt, "-o", out, "--target-id", "zone_id", "--prefix", "target_", "-w", "2", "-q"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "total 3  contained 1  partial 1  none 1")
	assert.Contains(t, stdout.String(), "joined_report.csv")

	layer, err := feature.LoadShapefile(out, "joined")
	require.NoError(t, err)
	assert.Equal(t, "urn:ogc:def:crs:EPSG::4490", layer.CRS)
	assert.Equal(t, []string{"code", "name", "target_zon", "target_zo1", "rel_type", "inter_area", "overlap_r"}, layer.Fields)

	v, _ := layer.Features[1].Attributes.Get("target_zon")
	assert.Equal(t, "Z2", v.String())
	v, _ = layer.Features[1].Attributes.Get("rel_type")
	assert.Equal(t, "partial_overlap", v.String())
	v, _ = layer.Features[1].Attributes.Get("overlap_r")
	f, ok := v.Float()
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, f, 1e-6)

	report, err := os.ReadFile(filepath.Join(dir, "joined_report.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "source_名称")
}

func TestJoinCommand_GeoJSONOutputAndVocabulary(t *testing.T) {
	dir, src, tgt := writeLayers(t)
	vocab := filepath.Join(dir, "vocab.yaml")
	require.NoError(t, os.WriteFile(vocab, []byte("zone_name: zname\n"), 0o644))
	out := filepath.Join(dir, "joined.geojson")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"join", src, tgt, "-o", out, "--prefix", "target_", "--vocabulary", vocab, "--no-report", "-q"})
	require.NoError(t, cmd.Execute())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	layer, err := feature.LoadGeoJSON(f, "joined")
	require.NoError(t, err)
	assert.True(t, layer.HasField("target_zna"))
	assert.NoFileExists(t, filepath.Join(dir, "joined_report.csv"))
}

func TestJoinCommand_Errors(t *testing.T) {
	dir, src, _ := writeLayers(t)

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"join", src, filepath.Join(dir, "missing.shp"), "-o", filepath.Join(dir, "x.shp")})
	assert.Error(t, cmd.Execute())

	cmd = newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"join", src, src, "-o", filepath.Join(dir, "x.shp"), "--source-id", "nope", "-q"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestInspectCommand(t *testing.T) {
	_, src, _ := writeLayers(t)

	var stdout bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"inspect", "--check", src})
	require.NoError(t, cmd.Execute())

	var info map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &info))
	assert.EqualValues(t, 3, info["featureCount"])
	assert.Equal(t, []any{"code", "名称"}, info["fields"])
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "shapefile", formatFromPath("a/B.SHP"))
	assert.Equal(t, "geojson", formatFromPath("out.json"))
	assert.Equal(t, "csv", formatFromPath("out.csv"))
	assert.Equal(t, "", formatFromPath("out"))
}

func multipartBody(t *testing.T, files map[string]string, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := w.CreateFormFile(name, name+".geojson")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestServer_Join(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(newServer(a, schema.DefaultEncoder()).routes())
	defer srv.Close()

	body, contentType := multipartBody(t,
		map[string]string{"source": sourceGeoJSON, "target": targetGeoJSON},
		map[string]string{"targetId": "zone_id", "prefix": "z_"})
	resp, err := http.Post(srv.URL+"/join", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["joined.shp"])
	assert.True(t, names["summary.json"])

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	var scraped bytes.Buffer
	_, err = scraped.ReadFrom(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, scraped.String(), `shpdata_records_total{relation="contained"} 1`)
}

func TestServer_JoinErrors(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(newServer(a, schema.DefaultEncoder()).routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/join")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	body, contentType := multipartBody(t, map[string]string{"source": sourceGeoJSON}, nil)
	resp, err = http.Post(srv.URL+"/join", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, contentType = multipartBody(t,
		map[string]string{"source": sourceGeoJSON, "target": targetGeoJSON},
		map[string]string{"sourceId": "missing"})
	resp, err = http.Post(srv.URL+"/join", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_CheckGeometry(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(newServer(a, schema.DefaultEncoder()).routes())
	defer srv.Close()

	layer := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"code":"ok"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
	  {"type":"Feature","properties":{"code":"bow"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,2],[0,2],[2,0],[0,0]]]}}
	]}`
	resp, err := http.Post(srv.URL+"/check-geometry?id=code", "application/json", strings.NewReader(layer))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var invalid []handlers.Error
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&invalid))
	require.Len(t, invalid, 1)
	assert.Equal(t, 1, invalid[0].Ref)
	assert.Equal(t, "bow", invalid[0].ID)
	assert.Equal(t, "buffered", invalid[0].Repair)
}
