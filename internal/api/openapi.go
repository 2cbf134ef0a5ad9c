package api

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/owinhost/internal/registry"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document listing the path prefixes
// every configured application is served under. Applications own everything
// below their prefix, so each is described as a single wildcard operation.
func buildOpenAPIDoc(apps []registry.AppInfo, mounts []Mount) map[string]any {
	paths := map[string]any{}
	for _, info := range apps {
		for _, prefix := range mountsFor(info.ID, mounts) {
			paths[strings.TrimSuffix(prefix, "/")+"/{path}"] = buildAppPath(info)
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "owinhost",
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

func buildAppPath(info registry.AppInfo) map[string]any {
	summary := info.TypeName
	if info.Method != "" {
		summary += "." + info.Method
	}
	operation := map[string]any{
		"operationId": fmt.Sprintf("app_%d", info.ID),
		"summary":     fmt.Sprintf("%s (%s)", info.Name, summary),
		"tags":        []string{info.Module},
		"parameters": []any{map[string]any{
			"name":     "path",
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		}},
		"responses": map[string]any{
			"default": map[string]any{"description": "Application response"},
			"400":     map[string]any{"description": "Malformed request envelope"},
			"500":     map[string]any{"description": "Application fault"},
			"503":     map[string]any{"description": "Application cancelled the request"},
		},
	}
	item := map[string]any{}
	for _, method := range []string{"get", "post", "put", "patch", "delete"} {
		item[method] = operation
	}
	return item
}
