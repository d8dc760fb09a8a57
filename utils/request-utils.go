package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// MultipartResult holds the uploaded files and plain form values of a
// multipart request.
type MultipartResult struct {
	Files      map[string][]byte
	Properties Properties
}

// Properties are the optional form values shared by the upload endpoints.
type Properties struct {
	SourceIDField string
	TargetIDField string
	FieldPrefix   string
	UseIndex      *bool
}

// ReadMultiPartForm parses r and reads every file part named in fileKeys.
// Missing files are reported as an error; maxMemory bounds what is kept in
// memory before parts spill to disk.
func ReadMultiPartForm(r *http.Request, maxMemory int64, fileKeys ...string) (MultipartResult, error) {
	result := MultipartResult{Files: make(map[string][]byte, len(fileKeys))}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return result, fmt.Errorf("parsing multipart form: %w", err)
	}

	for key, value := range r.MultipartForm.Value {
		if len(value) == 0 {
			continue
		}
		switch key {
		case "sourceId":
			result.Properties.SourceIDField = value[0]
		case "targetId":
			result.Properties.TargetIDField = value[0]
		case "prefix":
			result.Properties.FieldPrefix = value[0]
		case "useIndex":
			if b, err := strconv.ParseBool(value[0]); err == nil {
				result.Properties.UseIndex = &b
			}
		}
	}

	for _, key := range fileKeys {
		headers := r.MultipartForm.File[key]
		if len(headers) == 0 {
			return result, fmt.Errorf("missing file part %q", key)
		}
		data, err := readPart(headers[0])
		if err != nil {
			return result, fmt.Errorf("reading file part %q: %w", key, err)
		}
		result.Files[key] = data
	}
	return result, nil
}

func readPart(fileHeader *multipart.FileHeader) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
