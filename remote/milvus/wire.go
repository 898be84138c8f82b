package milvus

import json "github.com/goccy/go-json"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createRequest struct {
	CollectionName     string `json:"collectionName"`
	Dimension          int    `json:"dimension"`
	MetricType         string `json:"metricType"`
	PrimaryFieldName   string `json:"primaryFieldName"`
	IDType             string `json:"idType"`
	VectorFieldName    string `json:"vectorFieldName"`
	AutoID             bool   `json:"autoID"`
	EnableDynamicField bool   `json:"enableDynamicField"`
}

type collectionRequest struct {
	CollectionName string `json:"collectionName"`
}

type describeResponse struct {
	CollectionName string `json:"collectionName"`
	Fields         []struct {
		Name   string `json:"name"`
		Type   string `json:"type"`
		Params []struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		} `json:"params"`
	} `json:"fields"`
	Indexes []struct {
		FieldName  string `json:"fieldName"`
		MetricType string `json:"metricType"`
	} `json:"indexes"`
}

type statsResponse struct {
	RowCount int64 `json:"rowCount"`
}

type upsertRequest struct {
	CollectionName string           `json:"collectionName"`
	Data           []map[string]any `json:"data"`
}

type searchRequest struct {
	CollectionName string      `json:"collectionName"`
	Data           [][]float32 `json:"data"`
	AnnsField      string      `json:"annsField"`
	Limit          int         `json:"limit"`
	Filter         string      `json:"filter,omitempty"`
	OutputFields   []string    `json:"outputFields"`
}

type getRequest struct {
	CollectionName string   `json:"collectionName"`
	ID             []int64  `json:"id"`
	OutputFields   []string `json:"outputFields"`
}

type searchHit struct {
	ID       int64   `json:"id"`
	Distance float32 `json:"distance"`
}
