package task

import (
	"path/filepath"

	"github.com/google/uuid"
)

// Data-type labels attached to the produced artifacts.
const (
	DataTypeHTMLReport = "thor:html_report"
	DataTypeJSONLog    = "thor:json_log"
	DataTypeTextLog    = "thor:txt_log"
)

// Display names of the three expected artifacts.
const (
	htmlDisplayName = "Thor_Lite_HTML_report.html"
	jsonDisplayName = "Thor_Lite_JSON_log.json"
	textDisplayName = "Thor_Lite_TXT_log.txt"
)

// OutputFile pairs an artifact identity with the uuid-named path the
// scanner writes to inside the output root.
type OutputFile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	DataType    string `json:"data_type"`
	Path        string `json:"path"`
	Size        int64  `json:"size,omitempty"`
}

// NewOutputFile allocates an artifact identity under outputPath. The
// file itself is created later by the scanner.
func NewOutputFile(outputPath, displayName, dataType string) OutputFile {
	id := uuid.New().String()
	return OutputFile{
		ID:          id,
		DisplayName: displayName,
		DataType:    dataType,
		Path:        filepath.Join(outputPath, id+filepath.Ext(displayName)),
	}
}
