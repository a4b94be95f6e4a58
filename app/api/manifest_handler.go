package api

import (
	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"
)

type PluginManifest struct {
	SchemaVersion       string       `json:"schema_version"`
	NameForModel        string       `json:"name_for_model"`
	NameForHuman        string       `json:"name_for_human"`
	DescriptionForModel string       `json:"description_for_model"`
	DescriptionForHuman string       `json:"description_for_human"`
	Auth                manifestAuth `json:"auth"`
	API                 manifestAPI  `json:"api"`
	LogoURL             string       `json:"logo_url"`
	ContactEmail        string       `json:"contact_email"`
	LegalInfoURL        string       `json:"legal_info_url"`
}

type manifestAuth struct {
	Type string `json:"type"`
}

type manifestAPI struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ManifestHandler serves the plugin discovery documents under /.well-known.
type ManifestHandler struct {
	manifest PluginManifest
	openapi  []byte
}

func NewManifestHandler(publicURL string) (*ManifestHandler, error) {
	spec, err := yaml.Marshal(openAPISpec(publicURL))
	if err != nil {
		return nil, err
	}
	return &ManifestHandler{
		manifest: PluginManifest{
			SchemaVersion:       "v1",
			NameForModel:        "repo_retrieval",
			NameForHuman:        "Repository Retrieval",
			DescriptionForModel: "Index a GitHub repository with /index-repo, then use /query with the same repo_url to find files and code relevant to the user's question. Answer from the returned chunks and cite their source_id.",
			DescriptionForHuman: "Search the contents of GitHub repositories.",
			Auth:                manifestAuth{Type: "none"},
			API:                 manifestAPI{Type: "openapi", URL: publicURL + "/.well-known/openapi.yaml"},
			LogoURL:             publicURL + "/.well-known/logo.png",
			ContactEmail:        "admin@localhost",
			LegalInfoURL:        publicURL,
		},
		openapi: spec,
	}, nil
}

func (h *ManifestHandler) HandleManifest(c *fiber.Ctx) error {
	return c.JSON(h.manifest)
}

func (h *ManifestHandler) HandleOpenAPI(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/yaml; charset=utf-8")
	return c.Send(h.openapi)
}

type node = map[string]any

func jsonBody(ref string) node {
	return node{
		"required": true,
		"content": node{
			"application/json": node{"schema": node{"$ref": "#/components/schemas/" + ref}},
		},
	}
}

func jsonResponse(ref string) node {
	return node{
		"200": node{
			"description": "Successful Response",
			"content": node{
				"application/json": node{"schema": node{"$ref": "#/components/schemas/" + ref}},
			},
		},
	}
}

func object(required []string, props node) node {
	n := node{"type": "object", "properties": props}
	if len(required) > 0 {
		n["required"] = required
	}
	return n
}

func str() node { return node{"type": "string"} }

func arrayOf(items node) node { return node{"type": "array", "items": items} }

func ref(name string) node { return node{"$ref": "#/components/schemas/" + name} }

func openAPISpec(publicURL string) node {
	metadata := object(nil, node{
		"source":     node{"type": "string", "enum": []string{"email", "file", "chat"}},
		"source_id":  str(),
		"url":        str(),
		"created_at": str(),
		"author":     str(),
	})
	filter := object(nil, node{
		"document_id": str(),
		"source":      node{"type": "string", "enum": []string{"email", "file", "chat"}},
		"source_id":   str(),
		"author":      str(),
		"start_date":  str(),
		"end_date":    str(),
	})

	return node{
		"openapi": "3.0.2",
		"info": node{
			"title":       "Repository Retrieval Plugin API",
			"description": "Index GitHub repositories and query their contents.",
			"version":     "1.0.0",
		},
		"servers": []node{{"url": publicURL}},
		"paths": node{
			"/index-repo": node{"post": node{
				"summary":     "Index Repo",
				"operationId": "index_repo_index_repo_post",
				"description": "Download the default branch of a GitHub repository and index every file in it.",
				"requestBody": jsonBody("IndexRequest"),
				"responses":   jsonResponse("IndexResponse"),
			}},
			"/query": node{"post": node{
				"summary":     "Query Main",
				"operationId": "query_main_query_post",
				"description": "Accepts search query objects with optional filters. Pass repo_url to search an indexed repository.",
				"requestBody": jsonBody("QueryRequest"),
				"responses":   jsonResponse("QueryResponse"),
			}},
		},
		"components": node{"schemas": node{
			"DocumentMetadata":       metadata,
			"DocumentMetadataFilter": filter,
			"IndexRequest":           object([]string{"repo_url"}, node{"repo_url": str()}),
			"IndexResponse": object([]string{"success"}, node{
				"success":   node{"type": "boolean"},
				"documents": node{"type": "integer"},
				"skipped":   arrayOf(str()),
				"error":     str(),
			}),
			"Query": object([]string{"query"}, node{
				"query":  str(),
				"filter": ref("DocumentMetadataFilter"),
				"top_k":  node{"type": "integer", "default": 3},
			}),
			"QueryRequest": object([]string{"queries"}, node{
				"queries":  arrayOf(ref("Query")),
				"repo_url": str(),
			}),
			"DocumentChunkWithScore": object([]string{"text", "metadata", "score"}, node{
				"id":       str(),
				"text":     str(),
				"metadata": ref("DocumentMetadata"),
				"score":    node{"type": "number"},
			}),
			"QueryResult": object([]string{"query", "results"}, node{
				"query":   str(),
				"results": arrayOf(ref("DocumentChunkWithScore")),
			}),
			"QueryResponse": object([]string{"results"}, node{
				"results": arrayOf(ref("QueryResult")),
			}),
		}},
	}
}
