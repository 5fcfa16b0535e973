// Package metrics provides Prometheus metrics for document loading,
// validation and the HTTP inspector. Labels stay low-cardinality: no keys,
// paths or request IDs.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eugenenazirov/hparams/internal/hparams"
)

var (
	// DocumentLoadsTotal counts document loads by result (ok, not_found, parse_error, invalid, error).
	DocumentLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hparams_document_loads_total",
		Help: "Total number of configuration document loads, by result.",
	}, []string{"result"})

	// ViolationsTotal counts validation violations by kind (missing_key, type_mismatch, invalid_value).
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hparams_validation_violations_total",
		Help: "Total number of schema violations reported, by kind.",
	}, []string{"kind"})

	// HTTPRequestsTotal counts inspector requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hparams_http_requests_total",
		Help: "Total number of HTTP requests served, by method and status.",
	}, []string{"method", "status"})
)

// LoadResult classifies the outcome of a load for DocumentLoadsTotal.
func LoadResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, hparams.ErrNotFound):
		return "not_found"
	case errors.Is(err, hparams.ErrParse):
		return "parse_error"
	case errors.Is(err, hparams.ErrMissingKey), errors.Is(err, hparams.ErrTypeMismatch), errors.Is(err, hparams.ErrInvalidValue):
		return "invalid"
	}
	return "error"
}

// ViolationKind classifies a single violation for ViolationsTotal.
func ViolationKind(err error) string {
	switch {
	case errors.Is(err, hparams.ErrMissingKey):
		return "missing_key"
	case errors.Is(err, hparams.ErrTypeMismatch):
		return "type_mismatch"
	}
	return "invalid_value"
}

// ObserveLoad records the outcome of a load.
func ObserveLoad(err error) {
	DocumentLoadsTotal.WithLabelValues(LoadResult(err)).Inc()
}

// ObserveViolations records every violation in errs.
func ObserveViolations(errs []error) {
	for _, err := range errs {
		ViolationsTotal.WithLabelValues(ViolationKind(err)).Inc()
	}
}

// ObserveRequest records a served request.
func ObserveRequest(method string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
