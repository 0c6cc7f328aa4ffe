// Package docs holds the OpenAPI document served under /swagger/.
// Regenerate with: swag init -g cmd/wanpromptd/docs.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "sd-to-wan-prompt maintainers", "url": "https://github.com/ysm446/sd-to-wan-prompt"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/presets": {
            "get": {
                "tags": ["presets"], "summary": "List presets", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PresetsResponse"}}}
            }
        },
        "/presets/{id}/download": {
            "post": {
                "tags": ["presets"], "summary": "Download a preset",
                "description": "Streams NDJSON progress lines; the last line has done=true or an error.",
                "consumes": ["application/json"], "produces": ["application/x-ndjson"],
                "parameters": [
                    {"type": "string", "description": "Preset id", "name": "id", "in": "path", "required": true},
                    {"description": "Download options", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/types.DownloadRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DownloadProgressLine"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/backend": {
            "get": {
                "tags": ["backend"], "summary": "Describe the backend slots", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DescribeResponse"}}}
            }
        },
        "/backend/select": {
            "post": {
                "tags": ["backend"], "summary": "Select a preset", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"description": "Selection", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.SelectRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DescribeResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/backend/release": {
            "post": {
                "tags": ["backend"], "summary": "Release every slot", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DescribeResponse"}}}
            }
        },
        "/generate": {
            "post": {
                "tags": ["generate"], "summary": "Analyze an image or write a video prompt",
                "description": "Streams NDJSON: a start line with the request id, fragment lines, then a done line.",
                "consumes": ["application/json"], "produces": ["application/x-ndjson"],
                "parameters": [{"description": "Generation request", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateDoneLine"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/generate/{requestID}/cancel": {
            "post": {
                "tags": ["generate"], "summary": "Cancel a generation", "produces": ["application/json"],
                "parameters": [{"type": "string", "description": "Request id from the start line", "name": "requestID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CancelResponse"}}}
            }
        },
        "/artifacts": {
            "get": {
                "tags": ["artifacts"], "summary": "List local artifacts", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ArtifactsResponse"}}}
            }
        },
        "/artifacts/{id}": {
            "delete": {
                "tags": ["artifacts"], "summary": "Remove a local artifact",
                "parameters": [{"type": "string", "description": "Preset id", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}
            }
        },
        "/artifacts/rescan": {
            "post": {
                "tags": ["artifacts"], "summary": "Re-verify local artifacts", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ArtifactsResponse"}}}
            }
        },
        "/metadata": {
            "post": {
                "tags": ["metadata"], "summary": "Extract generation metadata", "consumes": ["image/png"], "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.MetadataResponse"}}}
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "integer"}, "kind": {"type": "string"}}},
        "types.PresetInfo": {"type": "object", "properties": {
            "id": {"type": "string"}, "display_name": {"type": "string"}, "description": {"type": "string"},
            "recommended_for": {"type": "string"}, "kind": {"type": "string"}, "repo_id": {"type": "string"},
            "revision": {"type": "string"}, "local_name": {"type": "string"}, "ram_mb": {"type": "integer"},
            "vram_mb": {"type": "integer"}, "downloaded": {"type": "boolean"}}},
        "types.PresetsResponse": {"type": "object", "properties": {"presets": {"type": "array", "items": {"$ref": "#/definitions/types.PresetInfo"}}}},
        "types.DownloadRequest": {"type": "object", "properties": {"force": {"type": "boolean"}}},
        "types.DownloadProgressLine": {"type": "object", "properties": {
            "preset_id": {"type": "string"}, "completed": {"type": "integer"}, "total": {"type": "integer"},
            "percent": {"type": "number"}, "file": {"type": "string"}, "files_done": {"type": "integer"},
            "files_total": {"type": "integer"}, "done": {"type": "boolean"}, "path": {"type": "string"},
            "error": {"type": "string"}, "kind": {"type": "string"}}},
        "types.SelectRequest": {"type": "object", "required": ["preset_id"], "properties": {
            "preset_id": {"type": "string"}, "device": {"type": "string"}, "precision": {"type": "string"}}},
        "types.SlotStatus": {"type": "object", "properties": {
            "class": {"type": "string"}, "state": {"type": "string"}, "preset_id": {"type": "string"},
            "kind": {"type": "string"}, "device": {"type": "string"}, "precision": {"type": "string"},
            "endpoint": {"type": "string"}, "pid": {"type": "integer"}, "est_ram_mb": {"type": "integer"},
            "est_vram_mb": {"type": "integer"}, "architecture": {"type": "string"}, "context_length": {"type": "integer"},
            "active_request": {"type": "string"}, "queue_len": {"type": "integer"}, "loaded_unix": {"type": "integer"},
            "last_error": {"type": "string"}}},
        "types.Selection": {"type": "object", "properties": {
            "preset_id": {"type": "string"}, "device": {"type": "string"}, "precision": {"type": "string"},
            "temperature": {"type": "number"}, "max_tokens": {"type": "integer"}, "top_p": {"type": "number"},
            "saved_unix": {"type": "integer"}}},
        "types.DescribeResponse": {"type": "object", "properties": {
            "mode": {"type": "string"}, "slots": {"type": "array", "items": {"$ref": "#/definitions/types.SlotStatus"}},
            "last_selection": {"$ref": "#/definitions/types.Selection"}, "uptime_seconds": {"type": "integer"},
            "server_time_unix": {"type": "integer"}}},
        "types.ImageMetadata": {"type": "object", "properties": {
            "positive_prompt": {"type": "string"}, "negative_prompt": {"type": "string"},
            "parameters": {"type": "object", "additionalProperties": true}, "source_tool": {"type": "string"}}},
        "types.GenerateRequest": {"type": "object", "required": ["image", "mode"], "properties": {
            "preset_id": {"type": "string"}, "image": {"type": "string"}, "image_mime": {"type": "string"},
            "metadata": {"$ref": "#/definitions/types.ImageMetadata"},
            "mode": {"type": "string", "enum": ["analyze", "generate_video_prompt"]},
            "language": {"type": "string"}, "style": {"type": "string"},
            "sections": {"type": "array", "items": {"type": "string"}}, "instruction": {"type": "string"},
            "temperature": {"type": "number"}, "max_tokens": {"type": "integer"}, "top_p": {"type": "number"}}},
        "types.Usage": {"type": "object", "properties": {
            "prompt_tokens": {"type": "integer"}, "completion_tokens": {"type": "integer"}, "total_tokens": {"type": "integer"}}},
        "types.GenerateDoneLine": {"type": "object", "properties": {
            "done": {"type": "boolean"}, "request_id": {"type": "string"}, "status": {"type": "string"},
            "content": {"type": "string"}, "finish_reason": {"type": "string"},
            "usage": {"$ref": "#/definitions/types.Usage"}, "error": {"type": "string"}, "kind": {"type": "string"}}},
        "types.CancelResponse": {"type": "object", "properties": {"request_id": {"type": "string"}, "cancelled": {"type": "boolean"}}},
        "types.ArtifactInfo": {"type": "object", "properties": {
            "preset_id": {"type": "string"}, "local_name": {"type": "string"}, "layout": {"type": "string"},
            "path": {"type": "string"}, "complete": {"type": "boolean"}, "size_bytes": {"type": "integer"},
            "size": {"type": "string"}, "files": {"type": "integer"}, "last_verified_unix": {"type": "integer"},
            "invalidated": {"type": "string"}}},
        "types.ArtifactsResponse": {"type": "object", "properties": {"artifacts": {"type": "array", "items": {"$ref": "#/definitions/types.ArtifactInfo"}}}},
        "types.MetadataResponse": {"type": "object", "properties": {
            "found": {"type": "boolean"}, "metadata": {"$ref": "#/definitions/types.ImageMetadata"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "wanpromptd API",
	Description:      "Model lifecycle and streaming inference for turning Stable Diffusion images into WAN 2.2 video prompts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
