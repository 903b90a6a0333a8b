package model

// SamplingParams is a single point in the best-of-N diversity schedule.
type SamplingParams struct {
	Temperature float64
	TopP        float64
	Seed        int64
}

// CandidateScores holds the three scoring components and their weighted sum.
// final_score = perplexity_weight*Perplexity + relevance_weight*Relevance +
// quality_weight*Quality; weights live in config.Generation.Weights and must
// sum to 1.
type CandidateScores struct {
	Perplexity float64
	Relevance  float64
	Quality    float64
	Final      float64
}

// Candidate is one best-of-N generation trial.
type Candidate struct {
	Text       string
	LogProbSum float64
	HasLogProb bool
	Sampling   SamplingParams
	Scores     CandidateScores
	Rank       int
}
