package answerengine

// resolvedOptions is Options with every zero-value filled in from config.
type resolvedOptions struct {
	responseFormat        string
	maxSources            int
	nCandidates           int
	allowExternalFallback bool
	confidenceFloor       float64
}

func (e *Engine) resolveOptions(o Options) resolvedOptions {
	responseFormat := o.ResponseFormat
	if responseFormat == "" {
		responseFormat = "detailed"
	}

	maxSources := o.MaxSources
	if maxSources <= 0 {
		maxSources = defaultMaxSources
	}

	nCandidates := o.NCandidates
	if nCandidates <= 0 {
		nCandidates = e.cfg.Generation.NCandidates
	}
	if nCandidates > 10 {
		nCandidates = 10
	}
	if nCandidates < 1 {
		nCandidates = 1
	}

	allowExternalFallback := true
	if o.AllowExternalFallback != nil {
		allowExternalFallback = *o.AllowExternalFallback
	}

	confidenceFloor := e.cfg.Gate.ConfidenceFloor
	if o.ConfidenceFloor != nil {
		confidenceFloor = *o.ConfidenceFloor
	}

	return resolvedOptions{
		responseFormat:        responseFormat,
		maxSources:            maxSources,
		nCandidates:           nCandidates,
		allowExternalFallback: allowExternalFallback,
		confidenceFloor:       confidenceFloor,
	}
}
