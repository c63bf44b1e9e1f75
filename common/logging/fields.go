package logging

import (
	"log/slog"
	"strings"
	"time"
)

// Common field names so every service logs the same keys.
const (
	FieldService       = "service"
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldRuleID        = "rule_id"
	FieldScanIDs       = "scan_ids"
	FieldJobID         = "job_id"
	FieldCorrelationID = "correlation_id"
	FieldSource        = "source"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for a component inside a service.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// Duration returns a slog attribute for an elapsed duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

func ScanIDs(ids []string) slog.Attr {
	return slog.String(FieldScanIDs, strings.Join(ids, ","))
}

func JobID(id string) slog.Attr {
	return slog.String(FieldJobID, id)
}

func CorrelationID(id string) slog.Attr {
	return slog.String(FieldCorrelationID, id)
}

// Source returns a slog attribute naming a rule source unit (file name, upload name).
func Source(name string) slog.Attr {
	return slog.String(FieldSource, name)
}
