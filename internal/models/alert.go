package models

import "time"

// AlertType tags the threshold rule that produced an alert.
type AlertType string

const (
	AlertDepartmentCritical AlertType = "department_critical"
	AlertEmployeeStress     AlertType = "employee_stress"
)

// Alert is the wire message pushed to observers when an entity newly crosses
// a threshold. Immutable once created.
type Alert struct {
	Type      AlertType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
