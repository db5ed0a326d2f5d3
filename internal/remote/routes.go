package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation IDs of the case service contract.
const (
	OpGetCase            = "getCase"
	OpGetProcedureSchema = "getProcedureSchema"
	OpListProcedures     = "listProcedures"
	OpBindProcedure      = "bindProcedure"
	OpPutField           = "putField"
	OpPutNotes           = "putNotes"
	OpValidate           = "validate"
	OpSubmit             = "submit"
)

// Route is the method and path template of one contract operation. Path
// parameters use OpenAPI brace syntax.
type Route struct {
	Method string
	Path   string
}

// Routes maps operation IDs to routes.
type Routes map[string]Route

// DefaultRoutes is the route table used when no OpenAPI document is
// configured.
func DefaultRoutes() Routes {
	return Routes{
		OpGetCase:            {http.MethodGet, "/cases/{caseId}"},
		OpGetProcedureSchema: {http.MethodGet, "/procedures/{code}"},
		OpListProcedures:     {http.MethodGet, "/procedures"},
		OpBindProcedure:      {http.MethodPut, "/cases/{caseId}/procedure"},
		OpPutField:           {http.MethodPut, "/cases/{caseId}/fields/{fieldKey}"},
		OpPutNotes:           {http.MethodPut, "/cases/{caseId}/notes"},
		OpValidate:           {http.MethodPost, "/cases/{caseId}/validate"},
		OpSubmit:             {http.MethodPost, "/cases/{caseId}/submit"},
	}
}

func requiredOperations() []string {
	return []string{
		OpGetCase, OpGetProcedureSchema, OpListProcedures, OpBindProcedure,
		OpPutField, OpPutNotes, OpValidate, OpSubmit,
	}
}

// LoadRoutes resolves every contract operation from the OpenAPI document at
// path. Operations are matched by operationId; a missing one is an error.
// The returned base URL is the document's first server, or "".
func LoadRoutes(path string) (Routes, string, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("remote: loading %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, "", fmt.Errorf("remote: validating %s: %w", path, err)
	}

	found := make(Routes)
	for p, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			found[op.OperationID] = Route{Method: method, Path: p}
		}
	}

	routes := make(Routes, len(requiredOperations()))
	var missing []string
	for _, id := range requiredOperations() {
		r, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		routes[id] = r
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, "", fmt.Errorf("remote: %s: missing operations %s", path, strings.Join(missing, ", "))
	}

	var baseURL string
	if len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	return routes, baseURL, nil
}

// expand fills the template's path parameters in order of appearance, so a
// document may name them freely.
func (r Route) expand(values ...string) string {
	segs := strings.Split(r.Path, "/")
	for i, seg := range segs {
		if len(values) == 0 {
			break
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segs[i] = url.PathEscape(values[0])
			values = values[1:]
		}
	}
	return strings.Join(segs, "/")
}
