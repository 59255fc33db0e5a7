package ingest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

const maxFileSizeBytes = 50 << 20

var supportedExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".html": {}, ".htm": {}, ".json": {}, ".xml": {}, ".csv": {},
	".pdf": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {}, ".tiff": {}, ".tif": {},
	".mp3": {}, ".wav": {}, ".m4a": {}, ".ogg": {}, ".flac": {}, ".aac": {}, ".wma": {},
}

// ValidateFile checks the ingestion boundary rules: known extension, non-empty
// body, at most 50 MB. A file of exactly 50 MB passes.
func ValidateFile(filename string, size int) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return &Error{
			Code:    ErrorUnsupportedType,
			Message: fmt.Sprintf("unsupported file type %q, supported: %s", ext, supportedExtensionList()),
		}
	}
	if size == 0 {
		return &Error{Code: ErrorEmptyFile, Message: fmt.Sprintf("file %s is empty", filename)}
	}
	if size > maxFileSizeBytes {
		return &Error{
			Code:    ErrorFileTooLarge,
			Message: fmt.Sprintf("file %s is %d bytes, limit is %d", filename, size, maxFileSizeBytes),
		}
	}
	return nil
}

func supportedExtensionList() string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, " ")
}
