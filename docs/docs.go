// Package docs registers the OpenAPI document served at /swagger.
// Regenerate with: swag init -g cmd/videod/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/videos": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Videos"],
                "summary": "List video requests",
                "operationId": "listVideos",
                "parameters": [
                    {"type": "string", "description": "Comma-separated statuses", "name": "status", "in": "query"},
                    {"type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Page size (max 100)", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListVideosResponse"}},
                    "400": {"description": "Bad status filter", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Videos"],
                "summary": "Create a personalized video request",
                "operationId": "createVideo",
                "parameters": [
                    {"type": "string", "description": "Idempotency key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Request payload", "name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateVideoRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.VideoResponse"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Upstream provider failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/videos/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Videos"],
                "summary": "Get a video request",
                "operationId": "getVideo",
                "parameters": [{"type": "integer", "description": "Request ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.VideoResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/videos/{id}/redispatch": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Videos"],
                "summary": "Retry delivery of a generated video",
                "operationId": "redispatchVideo",
                "parameters": [{"type": "integer", "description": "Request ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.VideoResponse"}},
                    "409": {"description": "Not deliverable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Dispatch failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CreateVideoRequest": {
            "type": "object",
            "required": ["actorId", "city", "name", "phone"],
            "properties": {
                "actorId": {"type": "string", "example": "actor-1"},
                "city": {"type": "string", "example": "Lisbon"},
                "name": {"type": "string", "example": "Alice"},
                "phone": {"type": "string", "example": "+15551234567"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "validation_failed"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.ListVideosResponse": {
            "type": "object",
            "properties": {
                "pagination": {"$ref": "#/definitions/handlers.Pagination"},
                "videos": {"type": "array", "items": {"$ref": "#/definitions/handlers.VideoSummary"}}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.VideoResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "integer", "example": 1},
                "status": {"type": "string", "example": "generating"},
                "video_url": {"type": "string"}
            }
        },
        "handlers.VideoSummary": {
            "type": "object",
            "properties": {
                "actor_id": {"type": "string"},
                "created_at": {"type": "string"},
                "id": {"type": "integer"},
                "status": {"type": "string"},
                "updated_at": {"type": "string"},
                "video_url": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{"http", "https"},
	Title:            "videod",
	Description:      "Personalized video request lifecycle API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
