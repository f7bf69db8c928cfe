// Package audit records who changed what through the HTTP APIs and serves
// the record back.
package audit

import "time"

// Outcomes of an audited request.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is one audited API call. Events are append-only.
type Event struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ShopID        string    `gorm:"column:shop_id;type:varchar(255);index:idx_audit_shop_time,priority:1"`
	Actor         string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	RequestID     string    `gorm:"column:request_id;index"`
	CorrelationID string    `gorm:"column:correlation_id"`
	API           string    `gorm:"column:api;type:varchar(32)"`
	ResourceType  string    `gorm:"column:resource_type;index:idx_audit_resource_time,priority:1"`
	ResourceID    string    `gorm:"column:resource_id"`
	Action        string    `gorm:"column:action;not null"`
	Method        string    `gorm:"column:method;type:varchar(16)"`
	Path          string    `gorm:"column:path"`
	Outcome       string    `gorm:"column:outcome;not null"`
	StatusCode    int       `gorm:"column:status_code"`
	DurationMs    int64     `gorm:"column:duration_ms"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_shop_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_resource_time,priority:2;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }
