package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gatewaydocument "livepreview/internal/gateway/service/document"
)

const maxDocumentBody = 4 << 20

// DocumentsHandler serves the read/write document API previews resolve
// relationships against:
//
//	GET {route}/{collection}?depth=&where[id][in]=a,b&limit=&locale=
//	GET {route}/{collection}/{id}?depth=
//	PUT {route}/{collection}/{id}
type DocumentsHandler struct {
	svc   *gatewaydocument.Service
	route string
}

func NewDocumentsHandler(svc *gatewaydocument.Service, route string) *DocumentsHandler {
	return &DocumentsHandler{svc: svc, route: "/" + strings.Trim(strings.TrimSpace(route), "/")}
}

// Pattern is the ServeMux pattern the handler expects to be mounted at.
func (h *DocumentsHandler) Pattern() string { return h.route + "/" }

func (h *DocumentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	collection, id, ok := h.splitPath(r.URL.EscapedPath())
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case r.Method == http.MethodGet && id == "":
		h.handleFind(w, r, collection)
	case r.Method == http.MethodGet:
		h.handleFindByID(w, r, collection, id)
	case r.Method == http.MethodPut && id != "":
		h.handleSave(w, r, collection, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *DocumentsHandler) handleFind(w http.ResponseWriter, r *http.Request, collection string) {
	q := r.URL.Query()
	docs, err := h.svc.Find(r.Context(), gatewaydocument.FindParams{
		Collection: collection,
		IDs:        idsFromQuery(q),
		Depth:      intParam(q, "depth", 0),
		Limit:      intParam(q, "limit", 0),
		Locale:     q.Get("locale"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"docs":      docs,
		"totalDocs": len(docs),
	})
}

func (h *DocumentsHandler) handleFindByID(w http.ResponseWriter, r *http.Request, collection, id string) {
	doc, err := h.svc.FindByID(r.Context(), collection, id, intParam(r.URL.Query(), "depth", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentsHandler) handleSave(w http.ResponseWriter, r *http.Request, collection, id string) {
	var doc map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBody)).Decode(&doc); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	saved, err := h.svc.Save(r.Context(), collection, id, doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc": saved})
}

func (h *DocumentsHandler) splitPath(path string) (string, string, bool) {
	rest, ok := strings.CutPrefix(path, h.route+"/")
	if !ok {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	collection, err := url.PathUnescape(parts[0])
	if err != nil || collection == "" {
		return "", "", false
	}
	switch len(parts) {
	case 1:
		return collection, "", true
	case 2:
		id, err := url.PathUnescape(parts[1])
		if err != nil || id == "" {
			return "", "", false
		}
		return collection, id, true
	default:
		return "", "", false
	}
}

// idsFromQuery reads where[id][in] (comma separated or repeated) and
// where[id][equals].
func idsFromQuery(q url.Values) []string {
	var ids []string
	for _, key := range []string{"where[id][in]", "where[id][in][]", "where[id][equals]"} {
		for _, v := range q[key] {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

func intParam(q url.Values, key string, def int) int {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gatewaydocument.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, gatewaydocument.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("documents api: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
