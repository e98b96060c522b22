package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/xenking/voucher-engine/internal/domain/report"
	"github.com/xenking/voucher-engine/internal/domain/usage"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

// GetReport handles GET /api/reports.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	q, err := parseReportQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.reports.Dashboard(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func parseReportQuery(values url.Values) (report.Query, error) {
	month, err := intParam(values, "month")
	if err != nil {
		return report.Query{}, err
	}
	year, err := intParam(values, "year")
	if err != nil {
		return report.Query{}, err
	}
	return report.Query{
		PartnerID: values.Get("partnerId"),
		VoucherID: values.Get("voucherId"),
		Criteria: usage.Criteria{
			Month:     month,
			Year:      year,
			ServiceID: values.Get("serviceId"),
		},
	}, nil
}

// intParam parses an optional integer query parameter. Absent means 0.
func intParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &voucher.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return n, nil
}
