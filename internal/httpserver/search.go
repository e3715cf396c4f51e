package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/wisbric/siemgate/internal/apierr"
	"github.com/wisbric/siemgate/internal/dslcompile"
	"github.com/wisbric/siemgate/internal/search"
)

// SearchHandler wraps a search.Executor for the three read-only DSL
// endpoints (spec §4.K: execute, estimate, facets).
type SearchHandler struct {
	executor *search.Executor
	logger   *slog.Logger
}

func NewSearchHandler(executor *search.Executor, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{executor: executor, logger: logger}
}

func (h *SearchHandler) decodeDocument(w http.ResponseWriter, r *http.Request) (dslcompile.Document, bool) {
	body, err := readLimitedBody(r, 1<<20)
	if err != nil {
		respondAPIErr(w, h.logger, err)
		return dslcompile.Document{}, false
	}
	doc, err := dslcompile.UnmarshalDocument(body)
	if err != nil {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), err.Error())
		return dslcompile.Document{}, false
	}
	return doc, true
}

// HandleSearch executes a compiled DSL document and returns its rows.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	doc, ok := h.decodeDocument(w, r)
	if !ok {
		return
	}

	result, err := h.executor.Execute(r.Context(), identity.TenantID, doc)
	if err != nil {
		respondAPIErr(w, h.logger, err)
		return
	}
	Respond(w, http.StatusOK, result)
}

// HandleEstimate reports a cheap lower bound on result size.
func (h *SearchHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	doc, ok := h.decodeDocument(w, r)
	if !ok {
		return
	}

	est, err := h.executor.Estimate(r.Context(), identity.TenantID, doc)
	if err != nil {
		respondAPIErr(w, h.logger, err)
		return
	}
	Respond(w, http.StatusOK, est)
}

// HandleFacets returns the top-K values of a field under the document's
// WHERE clause. The field and k parameters travel as query parameters
// alongside a DSL document body, mirroring how estimate/search take their
// document from the body and their shaping knobs from the query string.
func (h *SearchHandler) HandleFacets(w http.ResponseWriter, r *http.Request) {
	identity := FromContext(r.Context())
	doc, ok := h.decodeDocument(w, r)
	if !ok {
		return
	}

	field := r.URL.Query().Get("field")
	if field == "" {
		RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), "field query parameter is required")
		return
	}

	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		parsed, err := parsePositiveInt(v)
		if err != nil {
			RespondError(w, http.StatusBadRequest, string(apierr.CodeValidation), "k must be a positive integer")
			return
		}
		k = parsed
	}

	result, err := h.executor.Facets(r.Context(), identity.TenantID, doc, field, k)
	if err != nil {
		respondAPIErr(w, h.logger, err)
		return
	}
	Respond(w, http.StatusOK, result)
}
