package models

import (
	"encoding/json"
	"time"
)

type DatasetVersion struct {
	Version    string          `json:"version"`
	Source     string          `json:"source"`
	PulledAt   *time.Time      `json:"pulledAtUtc"`
	Transforms json.RawMessage `json:"transformsJson"`
}

// DatasetMeta is the singleton row naming the active version. An empty ActiveVersion means
// nothing has been activated yet.
type DatasetMeta struct {
	ID            int    `json:"id" bson:"_id"`
	ActiveVersion string `json:"activeVersion" bson:"active_version"`
}

const DatasetMetaID = 1
