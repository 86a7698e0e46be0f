// mock-ingest seeds the risk-monitor snapshot API with sample entities and
// fires the sync-complete hook, standing in for the real ETL pipeline during
// local development.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

type snapshotDoc struct {
	ID        string         `json:"id"`
	Metrics   map[string]any `json:"metrics"`
	UpdatedAt string         `json:"updated_at"`
}

func main() {
	var baseURL string
	var stress float64
	flag.StringVar(&baseURL, "base-url", "http://localhost:8080", "risk-monitor base URL")
	flag.Float64Var(&stress, "stress", 65.5, "stress_rate to seed for EMP001")
	flag.Parse()

	now := time.Now().UTC().Format(time.RFC3339)

	employees := []snapshotDoc{
		{
			ID: "EMP001",
			Metrics: map[string]any{
				"employee_name":   "Jordan Reyes",
				"department":      "Engineering",
				"position":        "Backend Engineer",
				"stress_rate":     stress,
				"engagement_rate": 48.0,
				"attrition_rate":  22.5,
			},
			UpdatedAt: now,
		},
		{
			ID: "EMP002",
			Metrics: map[string]any{
				"employee_name":   "Sam Okafor",
				"department":      "Sales",
				"position":        "Account Manager",
				"stress_rate":     18.0,
				"engagement_rate": 81.0,
				"attrition_rate":  6.0,
			},
			UpdatedAt: now,
		},
	}

	departments := []snapshotDoc{
		{
			ID: "DEP001",
			Metrics: map[string]any{
				"department_name":  "Engineering",
				"overall_risk":     "critical",
				"engagement_score": 42.5,
			},
			UpdatedAt: now,
		},
		{
			ID: "DEP002",
			Metrics: map[string]any{
				"department_name":  "Sales",
				"overall_risk":     "low",
				"engagement_score": 78.0,
			},
			UpdatedAt: now,
		},
	}

	postJSON(baseURL+"/api/v1/internal/snapshots", map[string]any{"kind": "employee", "items": employees})
	postJSON(baseURL+"/api/v1/internal/sync-complete", map[string]any{"kind": "employee"})
	postJSON(baseURL+"/api/v1/internal/snapshots", map[string]any{"kind": "department", "items": departments})
	postJSON(baseURL+"/api/v1/internal/sync-complete", map[string]any{"kind": "department"})

	log.Println("seed complete")
}

func postJSON(url string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal payload for %s: %v", url, err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: unexpected status %s", url, resp.Status)
	}
	fmt.Printf("POST %s -> %s\n", url, resp.Status)
}
