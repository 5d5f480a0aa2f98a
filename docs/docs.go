// Package docs swag 生成的 OpenAPI 描述
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
        "/api/v1/schedules": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["调度"],
                "summary": "查询调度列表",
                "parameters": [
                    {"type": "string", "description": "状态，逗号分隔", "name": "status", "in": "query"},
                    {"type": "string", "description": "渠道连接ID", "name": "channel_connection_id", "in": "query"},
                    {"type": "string", "description": "起始时间 RFC3339 或 YYYY-MM-DD", "name": "from_date", "in": "query"},
                    {"type": "string", "description": "结束时间 RFC3339 或 YYYY-MM-DD", "name": "to_date", "in": "query"},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["调度"],
                "summary": "创建发布调度",
                "parameters": [
                    {"description": "调度信息", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.createScheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/schedules/calendar": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["调度"],
                "summary": "按时间范围查询调度",
                "parameters": [
                    {"type": "string", "description": "起始时间", "name": "from_date", "in": "query", "required": true},
                    {"type": "string", "description": "结束时间", "name": "to_date", "in": "query", "required": true},
                    {"type": "string", "description": "状态，逗号分隔", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/schedules/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["调度"],
                "summary": "查询调度详情",
                "parameters": [{"type": "string", "description": "调度ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["调度"],
                "summary": "修改调度（仅 pending/failed）",
                "parameters": [
                    {"type": "string", "description": "调度ID", "name": "id", "in": "path", "required": true},
                    {"description": "修改内容", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.updateScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["调度"],
                "summary": "删除调度（默认软删除）",
                "parameters": [
                    {"type": "string", "description": "调度ID", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "物理删除", "name": "permanent", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/schedules/{id}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["调度"],
                "summary": "取消调度（仅 pending/queued）",
                "parameters": [{"type": "string", "description": "调度ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.createScheduleRequest": {
            "type": "object",
            "properties": {
                "post_variant_id": {"type": "string"},
                "channel_connection_id": {"type": "string"},
                "run_at": {"type": "string"},
                "timezone": {"type": "string"}
            }
        },
        "handler.updateScheduleRequest": {
            "type": "object",
            "properties": {
                "run_at": {"type": "string"},
                "timezone": {"type": "string"},
                "channel_connection_id": {"type": "string"}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {"data": {}}
        },
        "response.ErrorItem": {
            "type": "object",
            "properties": {
                "error_code": {"type": "string"},
                "error_description": {"type": "string"},
                "error_severity": {"type": "string"}
            }
        },
        "response.ErrorResponse": {
            "type": "object",
            "properties": {
                "errors": {"type": "array", "items": {"$ref": "#/definitions/response.ErrorItem"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Publish Scheduler API",
	Description:      "定时发布调度服务",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
