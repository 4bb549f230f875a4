// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "email": "support@bizmatters.dev"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/auth/login": {
            "post": {
                "description": "Authenticate user and return JWT token",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "User login",
                "parameters": [
                    {
                        "description": "Login credentials",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/models.LoginRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.LoginResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Create an empty project owned by the caller",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Create project",
                "parameters": [
                    {
                        "description": "Project details",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/gateway.CreateProjectRequest"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Project"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Get a project with its conversation history and current files",
                "produces": ["application/json"],
                "tags": ["projects"],
                "summary": "Get project",
                "parameters": [
                    {"type": "string", "description": "Project ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/gateway.ProjectResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/projects/{id}/generations": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Run the agent team on a prompt. Progress is streamed on /ws/generations/{id}.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["generations"],
                "summary": "Start generation",
                "parameters": [
                    {"type": "string", "description": "Project ID", "name": "id", "in": "path", "required": true},
                    {
                        "description": "Prompt",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/gateway.StartGenerationRequest"}
                    }
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/models.Generation"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/generations/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Get the status and result summary of a generation",
                "produces": ["application/json"],
                "tags": ["generations"],
                "summary": "Get generation",
                "parameters": [
                    {"type": "string", "description": "Generation ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Generation"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/ws/generations/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "WebSocket endpoint replaying and then streaming the progress events of a generation",
                "tags": ["generations"],
                "summary": "Stream generation progress",
                "parameters": [
                    {"type": "string", "description": "Generation ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "JWT, for clients that cannot set headers", "name": "token", "in": "query"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "gateway.CreateProjectRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string"},
                "description": {"type": "string"}
            }
        },
        "gateway.StartGenerationRequest": {
            "type": "object",
            "required": ["prompt"],
            "properties": {
                "prompt": {"type": "string"}
            }
        },
        "gateway.ProjectResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "owner_id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "snapshot": {"$ref": "#/definitions/models.ProjectSnapshot"}
            }
        },
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "models.LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "models.LoginResponse": {
            "type": "object",
            "properties": {
                "token": {"type": "string"},
                "expires_at": {"type": "string"},
                "user": {"$ref": "#/definitions/models.UserInfo"}
            }
        },
        "models.UserInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "email": {"type": "string"},
                "roles": {"type": "array", "items": {"type": "string"}},
                "created_at": {"type": "string"}
            }
        },
        "models.Project": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "owner_id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "models.ProjectSnapshot": {
            "type": "object",
            "properties": {
                "project_id": {"type": "string"},
                "history": {"type": "array", "items": {"$ref": "#/definitions/models.ConversationMessage"}},
                "files": {"type": "array", "items": {"$ref": "#/definitions/models.FileArtifact"}}
            }
        },
        "models.ConversationMessage": {
            "type": "object",
            "properties": {
                "role": {"type": "string", "enum": ["user", "assistant"]},
                "content": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "models.FileArtifact": {
            "type": "object",
            "properties": {
                "path": {"type": "string"},
                "content": {"type": "string"},
                "language": {"type": "string"}
            }
        },
        "models.Finding": {
            "type": "object",
            "properties": {
                "severity": {"type": "string", "enum": ["critical", "major", "minor"]},
                "description": {"type": "string"},
                "affected_path": {"type": "string"},
                "source": {"type": "string"},
                "kind": {"type": "string"}
            }
        },
        "models.CompressionStats": {
            "type": "object",
            "properties": {
                "original_token_estimate": {"type": "integer"},
                "compressed_token_estimate": {"type": "integer"},
                "messages_dropped": {"type": "integer"},
                "files_truncated": {"type": "integer"},
                "budget_exceeded": {"type": "boolean"}
            }
        },
        "models.ResultSummary": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["approved", "failed"]},
                "iteration_index": {"type": "integer"},
                "file_count": {"type": "integer"},
                "findings": {"type": "array", "items": {"$ref": "#/definitions/models.Finding"}},
                "iteration_limit_reached": {"type": "boolean"},
                "deadline_exceeded": {"type": "boolean"},
                "compression": {"$ref": "#/definitions/models.CompressionStats"}
            }
        },
        "models.Generation": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "project_id": {"type": "string"},
                "user_id": {"type": "string"},
                "prompt": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "running", "completed", "failed"]},
                "result": {"$ref": "#/definitions/models.ResultSummary"},
                "error": {"type": "string"},
                "created_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Codegen Orchestrator API",
	Description:      "Multi-agent code generation: a planner, an architect, per-layer domain agents, a tester and a reviewer iterate on a project until the reviewer approves.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
