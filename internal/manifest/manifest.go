// Package manifest serializes the JSON/SQL artifacts a dump run leaves at
// the root of its output directory and alongside each schema/table (spec
// §4.9, §6's "Output format on disk").
package manifest

import (
	"context"
	"encoding/json"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/br/pkg/storage"

	"dumpcore/internal/model"
)

// DumpStart is "@.json", written once planning completes and before any
// row data is streamed.
type DumpStart struct {
	Dumper              string            `json:"dumper"`
	Version             string            `json:"version"`
	Schemas             []string          `json:"schemas"`
	Basenames           map[string]string `json:"basenames"`
	Users               []string          `json:"users,omitempty"`
	DefaultCharacterSet string            `json:"defaultCharacterSet"`
	TZUtc               bool              `json:"tzUtc"`
	TableOnly           bool              `json:"tableOnly"`
	User                string            `json:"user"`
	Hostname            string            `json:"hostname"`
	Server              string            `json:"server"`
	ServerVersion       string            `json:"serverVersion"`
	GtidExecuted        string            `json:"gtidExecuted,omitempty"`
	Consistent          bool              `json:"consistent"`
	MDSCompatibility    bool              `json:"mdsCompatibility"`
	Begin               string            `json:"begin"`
}

// DumpEnd is "@.done.json", written only if the dump completes without
// interrupt or fatal error; its presence is the success signal (spec
// §8's "Manifest completeness" property).
type DumpEnd struct {
	End            string                       `json:"end"`
	DataBytes      int64                        `json:"dataBytes"`
	TableDataBytes map[string]map[string]int64  `json:"tableDataBytes"`
}

// SchemaManifest is "<schemaBasename>.json".
type SchemaManifest struct {
	Name     string   `json:"name"`
	Basename string   `json:"basename"`
	Tables   []string `json:"tables"`
	Views    []string `json:"views"`
	Events   []string `json:"events,omitempty"`
	Routines []string `json:"routines,omitempty"`
}

// ColumnManifest is one column's decode instructions, read by a parallel
// reload tool to invert a csv_unsafe column's TO_BASE64/HEX wrapping.
type ColumnManifest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	CSVUnsafe bool  `json:"csvUnsafe"`
	Decode   string `json:"decode,omitempty"` // "FROM_BASE64" | "UNHEX" | ""
}

// TableManifest is "<tableBasename>.json".
type TableManifest struct {
	Schema        string           `json:"schema"`
	Name          string           `json:"name"`
	Basename      string           `json:"basename"`
	Columns       []ColumnManifest `json:"columns"`
	PrimaryIndex  string           `json:"primaryIndex,omitempty"`
	Compression   string           `json:"compression"`
	Dialect       string           `json:"dialect"`
	Extension     string           `json:"extension"`
	Chunking      bool             `json:"chunking"`
	IncludesData  bool             `json:"includesData"`
	IncludesDDL   bool             `json:"includesDdl"`
	Histograms    []string         `json:"histograms,omitempty"`
}

// WriteJSON marshals v and writes it to name under store.
func WriteJSON(ctx context.Context, store storage.ExternalStorage, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(store.WriteFile(ctx, name, data))
}

// WriteText writes raw DDL text (for "@.sql", "<basename>.sql", etc).
func WriteText(ctx context.Context, store storage.ExternalStorage, name string, text string) error {
	return errors.Trace(store.WriteFile(ctx, name, []byte(text)))
}

// DecodeFor returns the decode instruction a reload tool must apply to
// a csv_unsafe column, matching the encoding the Worker requested when
// projecting it (spec §4.2: TO_BASE64 or HEX, chosen dump-wide).
func DecodeFor(col model.ColumnInfo, useBase64 bool) string {
	if !col.CSVUnsafe {
		return ""
	}
	if useBase64 {
		return "FROM_BASE64"
	}
	return "UNHEX"
}
