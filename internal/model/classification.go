package model

// ClassificationMethod records which stage of the Classifier produced a
// ClassificationRecord.
type ClassificationMethod string

const (
	ClassifiedByRule ClassificationMethod = "rule"
	ClassifiedByML   ClassificationMethod = "ml"
)

// ClassificationRecord is the Classifier's output for a single piece of text.
type ClassificationRecord struct {
	Fingerprint       string
	Label             string
	Confidence        float64
	Method            ClassificationMethod
	LabelDistribution map[string]float64
}
