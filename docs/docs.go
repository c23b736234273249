// Package docs holds the OpenAPI description served at /swagger when enabled.
// Regenerate with: swag init -g cmd/server/main.go -o docs
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
        "/rooms/{room_id}/messages": {
            "get": {
                "description": "Returns every message of the room ordered by timestamp. Supports weak ETag via If-None-Match and may return 304.",
                "produces": ["application/json"],
                "tags": ["Rooms"],
                "summary": "Room history",
                "operationId": "listRoomMessages",
                "parameters": [
                    {"type": "string", "example": "lobby", "description": "Room identifier", "name": "room_id", "in": "path", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "array", "items": {"$ref": "#/definitions/domain.ChatMessage"}},
                        "headers": {"ETag": {"type": "string", "description": "Weak ETag for current history"}}
                    },
                    "304": {"description": "Not Modified", "schema": {"type": "string"}},
                    "503": {"description": "Storage failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Stores the message and broadcasts it to websocket members of the room as a \"message\" event.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Rooms"],
                "summary": "Send a message to a room",
                "operationId": "postRoomMessage",
                "parameters": [
                    {"type": "string", "example": "lobby", "description": "Room identifier", "name": "room_id", "in": "path", "required": true},
                    {"description": "Message payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SendMessageRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.ChatMessage"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Storage failure", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.ChatMessage": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "content": {"type": "string"},
                "timestamp": {"type": "string"},
                "sender_id": {"type": "integer"},
                "sender_username": {"type": "string"},
                "room_id": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"},
                "code": {"type": "string", "example": "validation_error"},
                "message": {"type": "string", "example": "message exceeds maximum length"}
            }
        },
        "handlers.SendMessageRequest": {
            "type": "object",
            "required": ["message", "sender_id", "sender_username", "timestamp"],
            "properties": {
                "timestamp": {"type": "string", "example": "2024-05-01T12:00:00"},
                "message": {"type": "string", "example": "hello"},
                "sender_id": {"type": "integer", "example": 1},
                "sender_username": {"type": "string", "example": "alice"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Room Chat API",
	Description:      "Room-scoped chat: REST history and send endpoints alongside the /ws event gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
