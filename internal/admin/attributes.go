package admin

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
)

const staticAttributesEndpoint = "static_attributes"

type staticAttributesResponse struct {
	Attributes []model.StaticAttribute `json:"attributes"`
}

func (s *Server) handleStaticAttributes(w http.ResponseWriter, r *http.Request) {
	collection := strings.ToLower(strings.TrimSpace(r.PathValue("collection")))
	if collection == "" {
		http.Error(w, `{"error":"collection is required"}`, http.StatusBadRequest)
		return
	}

	if attrs, ok := s.attrCache.Get(collection); ok {
		metrics.AdminCacheHits.WithLabelValues(staticAttributesEndpoint).Inc()
		writeJSON(w, http.StatusOK, staticAttributesResponse{Attributes: attrs})
		return
	}

	attrs, err := s.attributes.GetStaticAttributes(r.Context(), collection)
	if err != nil {
		s.logger.Error("get static attributes failed", "collection", collection, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if attrs == nil {
		attrs = []model.StaticAttribute{}
	}

	if err := validateStaticAttributes(attrs); err != nil {
		s.logger.Error("static attributes response failed validation", "collection", collection, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.attrCache.Put(collection, attrs)
	writeJSON(w, http.StatusOK, staticAttributesResponse{Attributes: attrs})
}

// validateStaticAttributes checks the response shape before it is served. It
// fills nil token lists so they encode as empty arrays.
func validateStaticAttributes(attrs []model.StaticAttribute) error {
	for i := range attrs {
		a := &attrs[i]
		if a.Key == "" {
			return fmt.Errorf("attribute %d: empty key", i)
		}
		if !a.Kind.Valid() {
			return fmt.Errorf("attribute %q: invalid kind %q", a.Key, a.Kind)
		}
		if a.Values == nil {
			a.Values = []model.AttributeValue{}
		}
		for j := range a.Values {
			v := &a.Values[j]
			if v.Value == "" {
				return fmt.Errorf("attribute %q value %d: empty value", a.Key, j)
			}
			if v.Count < 0 {
				return fmt.Errorf("attribute %q value %q: negative count %d", a.Key, v.Value, v.Count)
			}
			if v.Tokens == nil {
				v.Tokens = []string{}
			}
		}
	}
	return nil
}
