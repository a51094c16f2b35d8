package metrics

import "time"

// ObserveAttestation records a completed resolution. confidence is in basis points.
func ObserveAttestation(outcome string, validLength bool, confidence uint16, duration time.Duration) {
	defaultRegistry.observeAttestation(outcome, validLength, confidence, duration)
}

// ObserveTaskFailure records a failed resolution attempt by error code.
func ObserveTaskFailure(code string, terminal bool) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.failures[failureKey{code: code, terminal: terminal}]++
}

func (r *registry) observeAttestation(outcome string, validLength bool, confidence uint16, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attestations[attestationKey{outcome: outcome, validLength: validLength}]++
	r.confidence.observe(float64(confidence))
	r.resolution.observe(duration.Seconds())
}
