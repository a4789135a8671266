// Package security provides validation, sanitization, and limits for extractq.
package security

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/extractq/pkg/core"
)

// Security limits and configuration
const (
	// MaxUserIDLength is the maximum length for user identifiers
	MaxUserIDLength = 255

	// MaxUploadSize is the maximum size in bytes for an uploaded document (10MB)
	MaxUploadSize = 10 << 20

	// MaxFilenameLength is the maximum length for stored filenames
	MaxFilenameLength = 255

	// MaxColumns is the maximum number of requested columns
	MaxColumns = 100

	// MaxColumnNameLength is the maximum length of one column name
	MaxColumnNameLength = 255

	// MaxRetries is the hard limit for stage attempts
	MaxRetries = 100

	// MaxConcurrency is the hard limit for worker slots
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validUserID matches alphanumeric, hyphens, underscores, dots and @
var validUserID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.@]*$`)

func invalid(field, reason string) error {
	return &core.ValidationError{Field: field, Reason: reason}
}

// ValidateUserID validates an owner identifier
func ValidateUserID(id string) error {
	if id == "" {
		return invalid("user_id", "required")
	}
	if len(id) > MaxUserIDLength {
		return invalid("user_id", "too long")
	}
	if !validUserID.MatchString(id) {
		return invalid("user_id", "contains unsupported characters")
	}
	return nil
}

// NormalizeSpec fills defaults and validates a submission. Empty tiers
// default to medium priority, regular complexity and JSON output; unknown
// values are rejected.
func NormalizeSpec(spec *core.JobSpec) error {
	if err := ValidateUserID(spec.UserID); err != nil {
		return err
	}

	switch spec.Priority {
	case "":
		spec.Priority = core.PriorityMedium
	case core.PriorityHigh, core.PriorityMedium, core.PriorityLow:
	default:
		return invalid("priority", "must be one of high, medium, low")
	}

	switch spec.Complexity {
	case "":
		spec.Complexity = core.ComplexityRegular
	case core.ComplexitySimple, core.ComplexityRegular, core.ComplexityComplex:
	default:
		return invalid("complexity", "must be one of simple, regular, complex")
	}

	switch spec.OutputFormat {
	case "":
		spec.OutputFormat = core.FormatJSON
	case core.FormatJSON, core.FormatCSV, core.FormatExcel:
	default:
		return invalid("output_format", "must be one of json, csv, excel")
	}

	if len(spec.Input) == 0 {
		return invalid("file", "empty upload")
	}
	if len(spec.Input) > MaxUploadSize {
		return invalid("file", "exceeds upload size limit")
	}

	spec.Filename = SanitizeFilename(spec.Filename)
	if spec.InputType == "" {
		spec.InputType = DetectInputType(spec.Filename)
	}

	if len(spec.Columns) > MaxColumns {
		return invalid("columns", "too many columns")
	}
	var cols []string
	for _, c := range spec.Columns {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if len(c) > MaxColumnNameLength {
			return invalid("columns", "column name too long")
		}
		cols = append(cols, c)
	}
	spec.Columns = cols
	return nil
}

// NormalizeUpdate validates a metadata edit. The filename is sanitized and
// the output format lowercased.
func NormalizeUpdate(u *core.JobUpdate) error {
	if u.Empty() {
		return invalid("update", "no editable fields given")
	}
	if u.InputFilename != nil {
		name := SanitizeFilename(strings.TrimSpace(*u.InputFilename))
		if name == "" {
			return invalid("input_filename", "must not be empty")
		}
		u.InputFilename = &name
	}
	if u.OutputFormat != nil {
		format := core.OutputFormat(strings.ToLower(string(*u.OutputFormat)))
		switch format {
		case core.FormatJSON, core.FormatCSV, core.FormatExcel:
		default:
			return invalid("output_format", "must be one of json, csv, excel")
		}
		u.OutputFormat = &format
	}
	return nil
}

// SanitizeFilename strips directories and control characters from an
// uploaded filename.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if utf8.RuneCountInString(out) > MaxFilenameLength {
		out = string([]rune(out)[:MaxFilenameLength])
	}
	return out
}

// DetectInputType guesses the input type from a filename extension.
func DetectInputType(filename string) core.InputType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return core.InputPDF
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp", ".tiff":
		return core.InputImages
	}
	return core.InputTable
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures an attempt count is within limits
func ClampRetries(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
