// Package docs registers the OpenAPI description served at /swagger.
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/auth/register": {"post": {"tags": ["auth"], "summary": "Register a new user", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad request"}, "409": {"description": "Email already exists"}}}},
        "/auth/login": {"post": {"tags": ["auth"], "summary": "User login", "responses": {"200": {"description": "Token and user"}, "401": {"description": "Invalid credentials"}}}},
        "/users/me": {"get": {"tags": ["auth"], "summary": "Current user", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/sessions": {
            "get": {"tags": ["sessions"], "summary": "List sessions", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["sessions"], "summary": "Schedule a session", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}}}
        },
        "/sessions/{id}": {
            "get": {"tags": ["sessions"], "summary": "Get a session", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "put": {"tags": ["sessions"], "summary": "Update a session", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "delete": {"tags": ["sessions"], "summary": "Delete a session", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "Deleted"}}}
        },
        "/invoices": {
            "get": {"tags": ["invoices"], "summary": "List invoices", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["invoices"], "summary": "Create a draft invoice", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}}}
        },
        "/invoices/{id}": {
            "get": {"tags": ["invoices"], "summary": "Get an invoice", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "put": {"tags": ["invoices"], "summary": "Update an invoice", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "delete": {"tags": ["invoices"], "summary": "Delete a draft invoice", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "Deleted"}}}
        },
        "/invoices/{id}/document": {
            "post": {"tags": ["invoices"], "summary": "Attach a PDF document", "security": [{"BearerAuth": []}], "consumes": ["multipart/form-data"], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "file", "in": "formData", "required": true, "type": "file"}], "responses": {"200": {"description": "OK"}, "503": {"description": "Document storage not configured"}}}
        },
        "/conversations": {
            "get": {"tags": ["conversations"], "summary": "List conversations", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["conversations"], "summary": "Open a conversation", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "Existing"}, "201": {"description": "Created"}}}
        },
        "/conversations/{id}/messages": {
            "get": {"tags": ["conversations"], "summary": "List messages", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "limit", "in": "query", "type": "integer"}, {"name": "before", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["conversations"], "summary": "Send a message", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"201": {"description": "Created"}}}
        },
        "/conversations/{id}/messages/{messageId}": {
            "delete": {"tags": ["conversations"], "summary": "Delete a message", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "messageId", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "Deleted"}}}
        },
        "/presence/{userId}": {
            "get": {"tags": ["presence"], "summary": "User presence", "security": [{"BearerAuth": []}], "parameters": [{"name": "userId", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}
        },
        "/ws": {
            "get": {"tags": ["websocket"], "summary": "WebSocket connection", "parameters": [{"name": "token", "in": "query", "type": "string"}], "responses": {"101": {"description": "Switching Protocols"}, "401": {"description": "Invalid token"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Coach Service API",
	Description:      "Coaching sessions, invoices and messaging with realtime change propagation.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
