package pipeline

// Explain attaches a score breakdown to each candidate.
//
// It is a pure formatting step: candidates are returned in the order
// given, with only the Explanation field populated. gate is the
// reranking decision and corrective the path taken for the request.
func Explain(candidates []Candidate, gate GateDecision, corrective string) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.Explanation = &Explanation{
			SparseScore:    c.SparseScore,
			DenseScore:     c.DenseScore,
			FusedScore:     c.FusedScore,
			RerankScore:    c.RerankScore,
			RerankDecision: gate.Reason,
			CorrectivePath: corrective,
		}
		out[i] = c
	}
	return out
}
