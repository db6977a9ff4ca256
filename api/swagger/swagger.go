package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "KRS Enrollment API",
        "description": "Course-section enrollment, seat allocation and waitlist promotion.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Enrollments", "description": "Enroll, manual enroll and drop"},
        {"name": "Sections", "description": "Waitlist and occupancy per section"},
        {"name": "Notifications", "description": "Inbox of seat and drop notices"}
    ],
    "paths": {
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "sectionId", "in": "query", "type": "string"},
                    {"name": "termId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["ENROLLED", "DROPPED", "COMPLETED"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["json", "csv"]}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll a student in a section",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Enrolled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Waitlisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Students may only enroll themselves"},
                    "404": {"description": "Unknown student, section or term"},
                    "409": {"description": "ALREADY_ENROLLED"},
                    "422": {"description": "REGISTRATION_NOT_OPEN, REGISTRATION_CLOSED, LEVEL_MISMATCH or MISSING_PREREQUISITES"}
                }
            }
        },
        "/enrollments/manual": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll a student on behalf of staff",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualEnrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Enrolled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Waitlisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "AUTHORIZATION_DENIED"}
                }
            }
        },
        "/enrollments/drop": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Drop an enrollment and promote the waitlist head",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DropRequest"}}
                ],
                "responses": {
                    "200": {"description": "Dropped", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "NO_ACTIVE_ENROLLMENT"}
                }
            }
        },
        "/sections/{id}/waitlist": {
            "get": {
                "tags": ["Sections"],
                "summary": "List the section waitlist in service order",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{id}/waitlist/{studentId}": {
            "delete": {
                "tags": ["Sections"],
                "summary": "Remove a student from the section waitlist",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Removed"},
                    "404": {"description": "Waitlist entry not found"}
                }
            }
        },
        "/sections/{id}/occupancy": {
            "get": {
                "tags": ["Sections"],
                "summary": "Compare the section counter with the enrollment ledger",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{id}/occupancy/reconcile": {
            "post": {
                "tags": ["Sections"],
                "summary": "Rewrite the section counter from the enrollment ledger",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{id}/promote": {
            "post": {
                "tags": ["Sections"],
                "summary": "Promote the head of the section waitlist",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "termId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List my notifications",
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "EnrollRequest": {
            "type": "object",
            "required": ["student_id", "section_id", "term_id"],
            "properties": {
                "student_id": {"type": "string"},
                "section_id": {"type": "string"},
                "term_id": {"type": "string"}
            }
        },
        "ManualEnrollRequest": {
            "type": "object",
            "required": ["student_id", "section_id", "term_id"],
            "properties": {
                "student_id": {"type": "string"},
                "section_id": {"type": "string"},
                "term_id": {"type": "string"},
                "bypass_window": {"type": "boolean"},
                "force_capacity": {"type": "boolean"}
            }
        },
        "DropRequest": {
            "type": "object",
            "required": ["student_id", "section_id"],
            "properties": {
                "student_id": {"type": "string"},
                "section_id": {"type": "string"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
