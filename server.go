package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aidingjing/shp-data/feature"
	"github.com/aidingjing/shp-data/handlers"
	"github.com/aidingjing/shp-data/join"
	"github.com/aidingjing/shp-data/schema"
	"github.com/aidingjing/shp-data/utils"
)

type server struct {
	app *app
	enc *schema.Encoder
	log *zap.Logger
}

func newServer(a *app, enc *schema.Encoder) *server {
	return &server{app: a, enc: enc, log: a.log.Named("http")}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/join", s.joinHandler)
	mux.HandleFunc("/check-geometry", s.checkGeometryHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.app.cfg.Server.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("server is listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// joinHandler expects a multipart form with GeoJSON files "source" and
// "target" and optional sourceId, targetId, prefix and useIndex values. It
// answers with the zipped result.
func (s *server) joinHandler(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic recovered in joinHandler", zap.Any("panic", rec))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}()
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method, only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.app.cfg
	maxBytes := cfg.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	form, err := utils.ReadMultiPartForm(r, 32<<20, "source", "target")
	if err != nil {
		http.Error(w, "ERROR: "+err.Error(), http.StatusBadRequest)
		return
	}

	source, err := feature.LoadGeoJSON(bytes.NewReader(form.Files["source"]), "source")
	if err != nil {
		http.Error(w, "ERROR: source: "+err.Error(), http.StatusBadRequest)
		return
	}
	target, err := feature.LoadGeoJSON(bytes.NewReader(form.Files["target"]), "target")
	if err != nil {
		http.Error(w, "ERROR: target: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts := join.Options{
		SourceIDField: cfg.Join.SourceIDField,
		TargetIDField: cfg.Join.TargetIDField,
		Repairer:      s.app.repairer(),
		UseIndex:      cfg.Join.UseIndex,
		Workers:       cfg.Join.Workers,
		Logger:        s.app.log,
		Metrics:       s.app.metrics,
	}
	prefix := cfg.Export.FieldPrefix
	props := form.Properties
	if props.SourceIDField != "" {
		opts.SourceIDField = props.SourceIDField
	}
	if props.TargetIDField != "" {
		opts.TargetIDField = props.TargetIDField
	}
	if props.FieldPrefix != "" {
		prefix = props.FieldPrefix
	}
	if props.UseIndex != nil {
		opts.UseIndex = *props.UseIndex
	}

	req := handlers.JoinRequest{Source: source, Target: target, Options: opts, FieldPrefix: prefix, Encoder: s.enc}
	zipData, err := handlers.JoinWithShapefile(r.Context(), req, "joined", s.app.metrics)
	if err != nil {
		http.Error(w, fmt.Sprintf("ERROR: join failed: %v", err), statusFor(err))
		return
	}
	sendZipResponse(w, zipData, "joined.zip")
}

// checkGeometryHandler validates a GeoJSON FeatureCollection posted as the
// request body. The optional id query parameter names the id property.
func (s *server) checkGeometryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method, only POST allowed", http.StatusMethodNotAllowed)
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.app.cfg.Server.MaxUploadMB<<20)
	defer body.Close()

	c, err := feature.LoadGeoJSON(body, "layer")
	if err != nil {
		http.Error(w, "ERROR: "+err.Error(), http.StatusBadRequest)
		return
	}
	invalid, err := handlers.CheckGeometry(c, r.URL.Query().Get("id"), s.app.repairer())
	if err != nil {
		http.Error(w, "ERROR: "+err.Error(), http.StatusBadRequest)
		return
	}
	sendJSONResponse(w, invalid)
}

// statusFor maps validation errors to 422 and everything else to 500.
func statusFor(err error) int {
	var (
		cfgErr   *feature.ConfigurationError
		typeErr  *feature.GeometryTypeError
		emptyErr *feature.EmptyCollectionError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &typeErr), errors.As(err, &emptyErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func sendZipResponse(w http.ResponseWriter, zipData []byte, filename string) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(zipData))
}
