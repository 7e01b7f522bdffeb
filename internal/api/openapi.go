package api

import (
	"net/http"
	"strconv"
)

type operation struct {
	method    string
	path      string
	id        string
	summary   string
	public    bool
	responses map[int]string
}

var operations = []operation{
	{method: "get", path: "/healthz", id: "healthz", summary: "Liveness and local queue depth", public: true,
		responses: map[int]string{200: "Healthy"}},
	{method: "post", path: "/texts/{textID}/jobs", id: "submitText", summary: "Resolve every segment of a text",
		responses: map[int]string{202: "Root job created and batches published", 404: "Text has no segments", 500: "Submit failed"}},
	{method: "get", path: "/texts/{textID}/relations", id: "getRelations", summary: "Stored relations of the latest completed job",
		responses: map[int]string{200: "Relations per segment", 404: "No job for text", 409: "Latest job not completed"}},
	{method: "get", path: "/jobs/{jobID}", id: "getJob", summary: "Root job progress",
		responses: map[int]string{200: "Root job", 404: "Job not found"}},
	{method: "get", path: "/jobs/{jobID}/tasks", id: "listTasks", summary: "Segment tasks of a root job",
		responses: map[int]string{200: "Tasks ordered by segment id", 404: "Job not found"}},
	{method: "get", path: "/events", id: "streamEvents", summary: "Server-sent progress events",
		responses: map[int]string{200: "text/event-stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document covering every route.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, op := range operations {
		responses := map[string]any{}
		for code, desc := range op.responses {
			responses[strconv.Itoa(code)] = map[string]any{"description": desc}
		}
		if !op.public {
			responses["401"] = map[string]any{"description": "Missing or invalid API key"}
		}

		item, _ := paths[op.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[op.path] = item
		}
		entry := map[string]any{
			"operationId": op.id,
			"summary":     op.summary,
			"responses":   responses,
		}
		if !op.public {
			entry["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}
		item[op.method] = entry
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "spanlink",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
