// Package reconciler runs an ad hoc review of one day of banking API data:
// fetch, resolve the processor, extract rows and flag each row against the
// response-code whitelist.
//
// Example usage:
//
//	svc, err := reconciler.NewService(client, cat, processors.NewDispatcher(nil))
//	review, err := svc.Review(ctx, reconciler.ReviewRequest{
//		Proccode: "180V42",
//		Source:   "BJB01",
//		Date:     day,
//	})
package reconciler

import (
	"context"
	"strings"
	"time"

	"tax-reconciliation-service/internal/catalog"
	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/processors"
	"tax-reconciliation-service/internal/source"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"
)

// ReviewRequest identifies the data to review. When ProccodeID names a
// catalog entry, an empty Proccode or Source is taken from it.
type ReviewRequest struct {
	Proccode   string    `json:"proccode"`
	ProccodeID *int64    `json:"proccode_id,omitempty"`
	Source     string    `json:"source"`
	Date       time.Time `json:"date"`
}

// ReviewRow is an extracted row with its whitelist verdict.
type ReviewRow struct {
	Row      models.Row `json:"row"`
	Accepted bool       `json:"accepted"`
}

// ReviewStats counts rows, or raw records for passthrough results.
type ReviewStats struct {
	Total    int `json:"total"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Review is the outcome of one ad hoc review.
type Review struct {
	Request        ReviewRequest       `json:"request"`
	Proccode       *models.Proccode    `json:"proccode,omitempty"`
	Strategy       processors.Strategy `json:"strategy"`
	Columns        []string            `json:"columns"`
	Rows           []ReviewRow         `json:"rows"`
	Raw            []interface{}       `json:"raw,omitempty"`
	Passthrough    bool                `json:"passthrough"`
	ProcessorError string              `json:"processor_error,omitempty"`
	Whitelist      string              `json:"whitelist,omitempty"`
	Stats          ReviewStats         `json:"stats"`
	FetchedAt      time.Time           `json:"fetched_at"`
	Duration       time.Duration       `json:"duration"`
}

// Service runs reviews against one catalog snapshot.
type Service struct {
	source     source.Source
	catalog    *catalog.Catalog
	dispatcher *processors.Dispatcher
	logger     logger.Logger
}

// NewService creates a review service. A nil dispatcher uses the default
// registry.
func NewService(src source.Source, cat *catalog.Catalog, dispatcher *processors.Dispatcher) (*Service, error) {
	if src == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "source", nil, nil).
			WithSuggestion("Provide a configured banking API client")
	}
	if dispatcher == nil {
		dispatcher = processors.NewDispatcher(nil)
	}
	return &Service{
		source:     src,
		catalog:    cat,
		dispatcher: dispatcher,
		logger:     logger.WithComponent("reconciler"),
	}, nil
}

// Review fetches the requested day and normalizes it. Only source failures
// and invalid requests are errors; processor failures are reported on the
// review.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (*Review, error) {
	req = s.complete(req)
	if strings.TrimSpace(req.Proccode) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "proccode", req.Proccode, nil)
	}
	if strings.TrimSpace(req.Source) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "source", req.Source, nil)
	}
	if req.Date.IsZero() {
		return nil, errors.ValidationError(errors.CodeInvalidDate, "date", "", nil)
	}

	log := s.logger.WithFields(logger.Fields{
		"proccode": req.Proccode,
		"source":   req.Source,
		"date":     req.Date.Format(models.DayLayout),
	})

	start := time.Now()
	resp, err := s.source.Fetch(ctx, source.Request{
		Proccode:  req.Proccode,
		TransDate: req.Date,
		Source:    req.Source,
	})
	if err != nil {
		log.WithError(err).Error("Review fetch failed")
		return nil, err
	}

	res := processors.Resolve(s.catalog, req.Proccode, req.Source, req.ProccodeID)
	result := s.dispatcher.Run(resp.Payload, res)

	review := &Review{
		Request:        req,
		Proccode:       res.Proccode,
		Strategy:       result.Strategy,
		Columns:        result.Columns,
		Rows:           []ReviewRow{},
		Passthrough:    result.Passthrough,
		ProcessorError: result.ProcessorError,
		FetchedAt:      start,
	}
	if result.Passthrough || result.Failed() {
		review.Raw = result.Raw
	}

	whitelist := mapping.ParseWhitelist("")
	if s.catalog != nil {
		whitelist = s.catalog.Whitelist()
	}
	review.Whitelist = whitelist.String()

	for _, row := range result.Rows {
		accepted := whitelist.Accepts(row.ResponseCode)
		review.Rows = append(review.Rows, ReviewRow{Row: row, Accepted: accepted})
		review.Stats.add(accepted)
	}
	if len(result.Rows) == 0 {
		for _, raw := range review.Raw {
			review.Stats.add(whitelist.Accepts(mapping.ResponseCode(raw)))
		}
	}
	review.Duration = time.Since(start)

	log.WithFields(logger.Fields{
		"strategy": review.Strategy.String(),
		"rows":     review.Stats.Total,
		"accepted": review.Stats.Accepted,
	}).Info("Review completed")

	return review, nil
}

func (s *Service) complete(req ReviewRequest) ReviewRequest {
	if req.ProccodeID == nil || s.catalog == nil {
		return req
	}
	p, ok := s.catalog.Proccode(*req.ProccodeID)
	if !ok {
		return req
	}
	if strings.TrimSpace(req.Proccode) == "" {
		if codes := p.Codes(); len(codes) > 0 {
			req.Proccode = codes[0]
		}
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = p.Source
	}
	return req
}

func (st *ReviewStats) add(accepted bool) {
	st.Total++
	if accepted {
		st.Accepted++
	} else {
		st.Rejected++
	}
}
