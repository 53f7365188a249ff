// Package model defines the core data types shared across mistborn.
package model

// ChangedFile is one non-binary file touched by a commit.
type ChangedFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // full file text at the commit
	Patch    string `json:"patch"`   // unified diff for this file in this commit
}

// Bug is a single structured finding extracted from a detection report.
type Bug struct {
	Description       string `json:"description"`
	VulnerabilityType string `json:"vulnerability_type"`
	Location          string `json:"location"`
}

// Report status values.
const (
	StatusNoCode    = "no_code"
	StatusCompleted = "completed"
)

// VulnerabilityReport is the output of the detection step. Analysis is the
// free-form model text handed to patch generation as-is.
type VulnerabilityReport struct {
	Status   string `json:"status"`
	Analysis string `json:"vulnerability_analysis"`
	Bugs     []Bug  `json:"bugs"`
	Summary  string `json:"summary"`
}

// RetrievalRecord is one exemplar stored in the retrieval index.
type RetrievalRecord struct {
	Text   string         `json:"text"`
	CWE    string         `json:"cwe,omitempty"`
	Type   string         `json:"type"` // "cve" or "cwe"
	Source map[string]any `json:"source,omitempty"`
}

// Record types.
const (
	RecordCVE = "cve"
	RecordCWE = "cwe"
)

// RiskLevel categorizes how dangerous a hinted construct is.
type RiskLevel int

const (
	RiskInfo RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskInfo:
		return "info"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}
