package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/ld-frontier/internal/frontier"
	"github.com/JakeFAU/ld-frontier/internal/uri"
)

// WireURI is a CrawleableURI on the wire. It decodes from either a bare
// string or a full object.
type WireURI struct {
	uri.CrawleableURI
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WireURI) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("decode uri string: %w", err)
		}
		w.CrawleableURI = uri.CrawleableURI{URI: raw}
		return nil
	}
	if err := json.Unmarshal(b, &w.CrawleableURI); err != nil {
		return fmt.Errorf("decode uri object: %w", err)
	}
	return nil
}

// WirePair couples a URI with an optional date. A bare string decodes as an
// undated URI.
type WirePair struct {
	URI  WireURI   `json:"uri"`
	Date time.Time `json:"date,omitzero"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *WirePair) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*p = WirePair{}
		return p.URI.UnmarshalJSON(b)
	}
	type plain WirePair
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("decode uri pair: %w", err)
	}
	*p = WirePair(out)
	return nil
}

// NextResponse is the body of POST /v1/uris/next.
type NextResponse struct {
	URIs []uri.CrawleableURI `json:"uris"`
}

// CrawlingDoneRequest is the body of POST /v1/crawling-done.
type CrawlingDoneRequest struct {
	Completed  []WirePair `json:"completed"`
	Discovered []WirePair `json:"discovered"`
}

// AddURIsRequest is the body of POST /v1/uris.
type AddURIsRequest struct {
	URIs []WirePair `json:"uris"`
}

// AddURIsResponse reports admission outcomes.
type AddURIsResponse struct {
	Total    int              `json:"total"`
	Outcomes frontier.Summary `json:"outcomes"`
}

func (s *Server) nextURIs(w http.ResponseWriter, r *http.Request) {
	// Any request body is ignored.
	_, _ = io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))

	ctx, span := s.tracer.Start(r.Context(), "api.NextURIs")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", workerID(r)))

	batch := s.frontier.NextURIs(ctx)
	if batch == nil {
		batch = []uri.CrawleableURI{}
	}
	writeJSON(w, http.StatusOK, NextResponse{URIs: batch})
}

func (s *Server) crawlingDone(w http.ResponseWriter, r *http.Request) {
	var req CrawlingDoneRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, span := s.tracer.Start(r.Context(), "api.CrawlingDone")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", workerID(r)))

	completed := make([]uri.DatePair, 0, len(req.Completed))
	for _, p := range req.Completed {
		if p.URI.URI == "" {
			s.logger.Warn("ignoring completed entry without uri", zap.String("worker", workerID(r)))
			continue
		}
		completed = append(completed, uri.DatePair{URI: p.URI.CrawleableURI, Date: p.Date})
	}
	s.frontier.CrawlingDone(ctx, completed, toPairs(req.Discovered))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ack"})
}

func (s *Server) addURIs(w http.ResponseWriter, r *http.Request) {
	var req AddURIsRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, span := s.tracer.Start(r.Context(), "api.AddURIs")
	defer span.End()

	summary := s.frontier.AddNewURIs(ctx, toPairs(req.URIs))
	writeJSON(w, http.StatusAccepted, AddURIsResponse{Total: summary.Total(), Outcomes: summary})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.frontier.Stats())
}

func toPairs(in []WirePair) []uri.DatePair {
	out := make([]uri.DatePair, 0, len(in))
	for _, p := range in {
		out = append(out, uri.DatePair{URI: p.URI.CrawleableURI, Date: p.Date})
	}
	return out
}
