package cassette

const documentSchemaURL = "https://github.com/seborama/scenevcr/cassette.schema.json"

const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://github.com/seborama/scenevcr/cassette.schema.json",
  "type": "object",
  "required": ["version", "chapters"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "chapters": {
      "type": "array",
      "items": {"$ref": "#/$defs/chapter"}
    }
  },
  "$defs": {
    "headers": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string"}}
    },
    "body": {
      "type": "object",
      "required": ["encoding", "value"],
      "additionalProperties": false,
      "properties": {
        "encoding": {"enum": ["text", "base64", "gzip+base64"]},
        "value": {"type": "string"}
      }
    },
    "chapter": {
      "type": "object",
      "required": ["id", "scenes"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "scenes": {
          "type": "array",
          "minItems": 2,
          "items": {"$ref": "#/$defs/scene"}
        }
      }
    },
    "scene": {
      "type": "object",
      "required": ["chapter", "type"],
      "additionalProperties": false,
      "properties": {
        "chapter": {"type": "string", "minLength": 1},
        "type": {"enum": ["request", "response", "data", "error", "closing"]},
        "request": {
          "type": "object",
          "required": ["method", "url"],
          "additionalProperties": false,
          "properties": {
            "method": {"type": "string", "minLength": 1},
            "url": {"type": "string", "minLength": 1},
            "headers": {"$ref": "#/$defs/headers"},
            "headersBase64": {"$ref": "#/$defs/headers"},
            "body": {"$ref": "#/$defs/body"}
          }
        },
        "response": {
          "type": "object",
          "required": ["statusCode"],
          "additionalProperties": false,
          "properties": {
            "statusCode": {"type": "integer", "minimum": 100, "maximum": 999},
            "status": {"type": "string"},
            "headers": {"$ref": "#/$defs/headers"},
            "headersBase64": {"$ref": "#/$defs/headers"},
            "url": {"type": "string"}
          }
        },
        "data": {"$ref": "#/$defs/body"},
        "error": {
          "type": "object",
          "required": ["message"],
          "additionalProperties": false,
          "properties": {
            "domain": {"type": "string"},
            "code": {"type": "integer"},
            "encoding": {"enum": ["text", "base64"]},
            "message": {"type": "string"},
            "details": {"type": "object", "additionalProperties": {"type": "string"}}
          }
        }
      }
    }
  }
}`
