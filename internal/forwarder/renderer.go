package forwarder

import (
	"context"
	"log/slog"

	"github.com/tracyhatemice/dispatchmail/internal/dispatch"
)

// LogRenderer writes each dispatch to the log. It stands in for a printer.
type LogRenderer struct {
	Logger *slog.Logger
}

func (r LogRenderer) Render(_ context.Context, rec *dispatch.Record, copies int) error {
	attrs := []any{
		"copies", copies,
		"complete", rec.Complete,
		"emergency_type", rec.EmergencyType,
		"keyword", rec.Keyword,
		"code3", rec.Code3,
		"town", rec.Town,
		"district", rec.District,
		"street", rec.Street,
		"house_number", rec.HouseNumber,
		"units", len(rec.DispatchedUnits),
	}
	if !rec.AlarmTime.IsZero() {
		attrs = append(attrs, "alarm_time", rec.AlarmTime)
	}
	if rec.Coordinates != nil {
		attrs = append(attrs, "lat", rec.Coordinates.Latitude, "lon", rec.Coordinates.Longitude)
	}
	if rec.Patient != nil {
		attrs = append(attrs, "patient", rec.Patient.String())
	}
	r.Logger.Info("dispatch", attrs...)
	return nil
}
