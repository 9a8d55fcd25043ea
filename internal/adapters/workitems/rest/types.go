package rest

import "encoding/json"

// ErrorResponse is the error body returned by the work item tracking API.
type ErrorResponse struct {
	Message string `json:"message"`
	TypeKey string `json:"typeKey"`
}

// PatchOperation is one JSON Patch operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

type workItemResponse struct {
	ID     int                        `json:"id"`
	Rev    int                        `json:"rev"`
	Fields map[string]json.RawMessage `json:"fields"`
	URL    string                     `json:"url,omitempty"`
}

type fieldResponse struct {
	ReferenceName string `json:"referenceName"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	ReadOnly      bool   `json:"readOnly"`
}

type fieldListResponse struct {
	Count int             `json:"count"`
	Value []fieldResponse `json:"value"`
}

type typeFieldResponse struct {
	ReferenceName string `json:"referenceName"`
	Name          string `json:"name"`
}

type workItemTypeResponse struct {
	Name   string              `json:"name"`
	Fields []typeFieldResponse `json:"fields"`
}

type workItemTypeListResponse struct {
	Count int                    `json:"count"`
	Value []workItemTypeResponse `json:"value"`
}
