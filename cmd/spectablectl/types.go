package main

import "time"

// These mirror the server's JSON responses.

type resolution struct {
	TemplateID string `json:"templateId,omitempty" yaml:"templateId,omitempty"`
	Found      bool   `json:"found" yaml:"found"`
	Level      string `json:"level" yaml:"level"`
	Cached     bool   `json:"cached,omitempty" yaml:"cached,omitempty"`
}

type rebuildResult struct {
	ShopID    string        `json:"shopId" yaml:"shopId"`
	Rebuilt   int           `json:"rebuilt" yaml:"rebuilt"`
	Skipped   int           `json:"skipped" yaml:"skipped"`
	Conflicts int           `json:"conflicts" yaml:"conflicts"`
	Duration  time.Duration `json:"durationNs" yaml:"duration"`
}

type shopOutcome struct {
	ShopID  string `json:"shopId" yaml:"shopId"`
	Rebuilt int    `json:"rebuilt" yaml:"rebuilt"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

type rebuildAllReport struct {
	Shops      []shopOutcome `json:"shops" yaml:"shops"`
	Succeeded  int           `json:"succeeded" yaml:"succeeded"`
	Failed     int           `json:"failed" yaml:"failed"`
	DurationMs int64         `json:"durationMs" yaml:"durationMs"`
}

type entry struct {
	ShopID       string `json:"shopId" yaml:"shopId"`
	ProductID    string `json:"productId,omitempty" yaml:"productId,omitempty"`
	CollectionID string `json:"collectionId,omitempty" yaml:"collectionId,omitempty"`
	TemplateID   string `json:"templateId" yaml:"templateId"`
	Priority     int    `json:"priority" yaml:"priority"`
	IsDefault    bool   `json:"isDefault" yaml:"isDefault"`
}

type entriesResponse struct {
	ShopID       string  `json:"shopId" yaml:"shopId"`
	Entries      []entry `json:"entries" yaml:"entries"`
	TotalSize    int     `json:"totalSize" yaml:"totalSize"`
	RebuildPhase string  `json:"rebuildPhase,omitempty" yaml:"rebuildPhase,omitempty"`
}

type job struct {
	ID           string `json:"id" yaml:"id"`
	ShopID       string `json:"shopId" yaml:"shopId"`
	Trigger      string `json:"trigger" yaml:"trigger"`
	RequestedBy  string `json:"requestedBy" yaml:"requestedBy"`
	RequestedAt  string `json:"requestedAt" yaml:"requestedAt"`
	State        string `json:"state" yaml:"state"`
	Message      string `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt    string `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
	AttemptCount int    `json:"attemptCount" yaml:"attemptCount"`
	LastError    string `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	Coalesced    int    `json:"coalesced,omitempty" yaml:"coalesced,omitempty"`
	Rebuilt      int    `json:"rebuilt,omitempty" yaml:"rebuilt,omitempty"`
	ShopsFailed  int    `json:"shopsFailed,omitempty" yaml:"shopsFailed,omitempty"`
	DurationMs   int64  `json:"durationMs,omitempty" yaml:"durationMs,omitempty"`
}

type enqueueResponse struct {
	Job       job  `json:"job" yaml:"job"`
	Coalesced bool `json:"coalesced" yaml:"coalesced"`
}

type jobListResponse struct {
	Jobs          []job  `json:"jobs" yaml:"jobs"`
	NextPageToken string `json:"nextPageToken,omitempty" yaml:"nextPageToken,omitempty"`
	TotalSize     int    `json:"totalSize" yaml:"totalSize"`
}
