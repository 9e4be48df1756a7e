package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/pashagolub/tierelo/pkg/elo"
	"github.com/pashagolub/tierelo/pkg/tier"
)

type itemsRequest struct {
	IDs []string `json:"ids"`
}

type itemsResponse struct {
	Registered int `json:"registered"`
	Items      int `json:"items"`
}

// handlePostItems handles POST /items
func (s *Server) handlePostItems(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", ErrEmptyUpload)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.Initialize(r.Context(), req.IDs); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsResponse{
		Registered: len(req.IDs),
		Items:      len(s.engine.Items()),
	})
}

// comparisonsRequest carries head-to-head results and ranked lists; each
// ranked list is expanded into pairwise comparisons
type comparisonsRequest struct {
	Comparisons []elo.Comparison `json:"comparisons"`
	Rankings    [][]string       `json:"rankings"`
}

type rejection struct {
	Index  int    `json:"index"`
	ItemA  string `json:"item_a"`
	ItemB  string `json:"item_b"`
	Reason string `json:"reason"`
}

type comparisonsResponse struct {
	Applied  int         `json:"applied"`
	Rejected []rejection `json:"rejected"`
	Items    int         `json:"items"`
}

// handlePostComparisons handles POST /comparisons. Malformed comparisons are
// reported back without failing the rest of the batch; only a batch where
// nothing could be applied is answered with 422.
func (s *Server) handlePostComparisons(w http.ResponseWriter, r *http.Request) {
	var req comparisonsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	now := s.now()
	batch := make([]elo.Comparison, 0, len(req.Comparisons))
	for _, c := range req.Comparisons {
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		batch = append(batch, c)
	}
	for i, ranking := range req.Rankings {
		expanded, err := elo.ExpandRanking(ranking, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("ranking %d: %w", i, err))
			return
		}
		batch = append(batch, expanded...)
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", ErrEmptyUpload)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// the joined error only repeats what result.Rejected already lists
	result, _ := s.engine.RecordComparisons(r.Context(), batch)

	resp := comparisonsResponse{
		Applied:  result.Applied(),
		Rejected: make([]rejection, 0, len(result.Rejected)),
		Items:    len(s.engine.Items()),
	}
	for _, rej := range result.Rejected {
		resp.Rejected = append(resp.Rejected, rejection{
			Index:  rej.Index,
			ItemA:  rej.Comparison.ItemA,
			ItemB:  rej.Comparison.ItemB,
			Reason: rej.Err.Error(),
		})
	}

	status := http.StatusOK
	if resp.Applied == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// handleGetRatings handles GET /ratings
func (s *Server) handleGetRatings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := s.engine.Items()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, items)
}

type tiersResponse struct {
	Tiers       []tier.Definition `json:"tiers"`
	Assignments map[string]string `json:"assignments"`
}

// handleGetTiers handles GET /tiers?count=N
func (s *Server) handleGetTiers(w http.ResponseWriter, r *http.Request) {
	count, err := s.tierCount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defs, err := s.definitions(r, count)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	assigned, err := s.engine.ComputeTiers(r.Context(), defs)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := tiersResponse{Tiers: defs, Assignments: make(map[string]string, len(assigned))}
	for id, def := range assigned {
		resp.Assignments[id] = def.Label
	}
	writeJSON(w, http.StatusOK, resp)
}

type confidenceResponse struct {
	Tiers      []tier.Definition `json:"tiers"`
	Placements []tier.Confidence `json:"placements"`
}

// handleGetConfidence handles GET /confidence?count=N
func (s *Server) handleGetConfidence(w http.ResponseWriter, r *http.Request) {
	count, err := s.tierCount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	defs, err := s.definitions(r, count)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	report, err := s.engine.GetConfidenceReport(r.Context(), defs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confidenceResponse{Tiers: defs, Placements: report})
}

// handleGetMatchups handles GET /matchups?n=N
func (s *Server) handleGetMatchups(w http.ResponseWriter, r *http.Request) {
	n, err := positiveQuery(r, "n", defaultMatchups)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	n = min(n, maxMatchups)

	s.mu.Lock()
	matchups := s.engine.SuggestMatchups(n)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, matchups)
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Items  int    `json:"items"`
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := healthResponse{
		Status: "ok",
		State:  s.engine.State().String(),
		Items:  len(s.engine.Items()),
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// definitions builds tier definitions for the current ranking; mu must be held
func (s *Server) definitions(r *http.Request, count int) ([]tier.Definition, error) {
	boundaries, err := s.engine.ComputeBoundaries(r.Context(), count)
	if err != nil {
		return nil, err
	}
	templates, err := s.templates(count)
	if err != nil {
		return nil, err
	}
	return tier.Build(templates, boundaries)
}

func (s *Server) tierCount(r *http.Request) (int, error) {
	count, err := positiveQuery(r, "count", s.defaultTiers)
	if err != nil {
		return 0, err
	}
	if count > maxTiers {
		return 0, fmt.Errorf("%w: count must not exceed %d, got %d", ErrBadQuery, maxTiers, count)
	}
	return count, nil
}

// positiveQuery reads a positive integer query parameter
func positiveQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrBadQuery, name, raw)
	}
	return n, nil
}
