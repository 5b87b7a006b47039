package domain

import "time"

// CategoryScore is a category with the confidence assigned to it.
type CategoryScore struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
}

// RoutingResult is the classification of one query.
type RoutingResult struct {
	Category   Category        `json:"category"`
	Confidence float64         `json:"confidence"`
	Candidates []CategoryScore `json:"candidates,omitempty"`
}

// ComplianceStatus is the verdict of the compliance checker.
type ComplianceStatus string

// Compliance verdicts, in increasing severity.
const (
	CompliancePass    ComplianceStatus = "pass"
	ComplianceFlagged ComplianceStatus = "flagged"
	ComplianceFail    ComplianceStatus = "fail"
)

// Severity is how seriously a violated rule is taken.
type Severity string

// Rule severities. A flag surfaces reasons; a fail withholds the answer.
const (
	SeverityFlag Severity = "flag"
	SeverityFail Severity = "fail"
)

// Violation is one rule tripped by a drafted answer.
type Violation struct {
	RuleID   string   `json:"ruleId"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ComplianceResult is the verdict on one drafted answer.
type ComplianceResult struct {
	Status     ComplianceStatus `json:"status"`
	Reasons    []string         `json:"reasons"`
	Violations []Violation      `json:"violations,omitempty"`

	// AnswerRef identifies the checked draft without carrying it.
	AnswerRef string `json:"answerRef"`
}

// CalculationInputs are calculation parameters supplied explicitly
// instead of being extracted from the query text.
type CalculationInputs struct {
	Structure string    `json:"structure,omitempty"`
	Ratio     []float64 `json:"ratio,omitempty"`
	Amount    *float64  `json:"amount,omitempty"`
}

// Calculation is an audited closed-form computation.
type Calculation struct {
	Type    string             `json:"type"`
	Inputs  map[string]any     `json:"inputs"`
	Outputs map[string]float64 `json:"outputs"`
	Steps   []string           `json:"steps"`
}

// SourceAttribution credits a retrieved chunk used for an answer.
type SourceAttribution struct {
	DocumentID string  `json:"documentId"`
	ChunkID    string  `json:"chunkId"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
}

// ResultMetadata describes how an answer was produced.
type ResultMetadata struct {
	RoutingConfidence float64          `json:"routingConfidence"`
	ProcessingTime    time.Duration    `json:"processingTime"`
	ComplianceStatus  ComplianceStatus `json:"complianceStatus"`
	ComplianceReasons []string         `json:"complianceReasons,omitempty"`
	SessionID         string           `json:"sessionId"`
}

// OrchestratorResult is the final answer of a query.
type OrchestratorResult struct {
	Answer      string              `json:"answer"`
	Category    Category            `json:"category"`
	Sources     []SourceAttribution `json:"sources,omitempty"`
	Calculation *Calculation        `json:"calculation,omitempty"`
	Metadata    ResultMetadata      `json:"metadata"`
}
