package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

// Format selects the exported file type.
type Format string

const (
	PDF  Format = "PDF"
	PNG  Format = "PNG"
	SVG  Format = "SVG"
	CSV  Format = "CSV"
	JSON Format = "JSON"
)

// Formats lists every supported format, charts first.
var Formats = []Format{PDF, PNG, SVG, CSV, JSON}

// ParseFormat accepts any letter case.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

func (f Format) Ext() string { return strings.ToLower(string(f)) }

// IsChart reports whether the format is rendered as a chart.
func (f Format) IsChart() bool { return f == PDF || f == PNG || f == SVG }

var unsafeChars = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", ".", "_",
)

// SafeName replaces characters that are illegal in file names with "_".
func SafeName(name string) string {
	return unsafeChars.Replace(name)
}

// FileName is the human-readable export title for a device and date.
func FileName(dev telemetry.Device, date time.Time) string {
	return fmt.Sprintf("Production Test Data | %s | %s", dev.Name(), date.Format("2006-01-02"))
}

// Request is everything the writer needs. Readings is a copy owned by the request.
type Request struct {
	Device    telemetry.Device
	Readings  telemetry.Series
	Summary   stats.Summary
	Format    Format
	Directory string
	Title     string
	BaseName  string
}

// NewRequest derives the title and sanitised base name from the device and date.
func NewRequest(dev telemetry.Device, readings telemetry.Series, summary stats.Summary, format Format, dir string, date time.Time) Request {
	title := FileName(dev, date)
	return Request{
		Device:    dev,
		Readings:  readings,
		Summary:   summary,
		Format:    format,
		Directory: dir,
		Title:     title,
		BaseName:  SafeName(title),
	}
}

// Path is the destination file.
func (r Request) Path() string {
	return filepath.Join(r.Directory, r.BaseName+"."+r.Format.Ext())
}
