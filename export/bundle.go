package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aidingjing/shp-data/join"
)

// Bundle packs a join result into one zip archive: the augmented layer as
// <name>.shp/.shx/.dbf/.cpg/.prj, the flat report as report.csv and the
// summary as summary.json.
func Bundle(name string, t *Table, report *Report, summary join.Summary) ([]byte, error) {
	var zipBuffer bytes.Buffer
	zipWriter := zip.NewWriter(&zipBuffer)

	if err := addShapefileToZip(zipWriter, name, t); err != nil {
		return nil, fmt.Errorf("failed to add shapefile to zip: %w", err)
	}

	if report != nil {
		reportFile, err := zipWriter.Create("report.csv")
		if err != nil {
			return nil, fmt.Errorf("failed to create report in zip: %w", err)
		}
		if err := EncodeCSV(reportFile, report); err != nil {
			return nil, fmt.Errorf("failed to write report to zip: %w", err)
		}
	}

	summaryFile, err := zipWriter.Create("summary.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create summary in zip: %w", err)
	}
	enc := json.NewEncoder(summaryFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return nil, fmt.Errorf("failed to write summary to zip: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return zipBuffer.Bytes(), nil
}

// addShapefileToZip generates the shapefile in a temporary directory and
// copies each component into the archive.
func addShapefileToZip(zipWriter *zip.Writer, name string, t *Table) error {
	tempDir, err := os.MkdirTemp("", "shapefile_")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := WriteShapefile(filepath.Join(tempDir, name+".shp"), t); err != nil {
		return err
	}

	for _, ext := range shapefileParts {
		fileContent, err := os.ReadFile(filepath.Join(tempDir, name+ext))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read shapefile component %s: %w", ext, err)
		}
		zipFile, err := zipWriter.Create(name + ext)
		if err != nil {
			return fmt.Errorf("failed to create %s file in zip: %w", ext, err)
		}
		if _, err := zipFile.Write(fileContent); err != nil {
			return fmt.Errorf("failed to write %s data to zip: %w", ext, err)
		}
	}
	return nil
}
