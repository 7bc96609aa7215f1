package goTrust

import "context"

// Sweep runs one reconciliation pass over every active session. It
// terminates sessions past their expiry or inactivity timeout and trims
// identities holding more sessions than their policy allows, oldest first.
// A pass is idempotent and can be retried in full.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	if err := e.ready(); err != nil {
		return SweepResult{}, err
	}
	res, err := e.flows.Sweep(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Int("scanned", res.Scanned).Msg("session sweep failed")
		return res, err
	}
	if n := res.Terminated(); n > 0 || res.Incomplete {
		e.logger.Info().
			Int("scanned", res.Scanned).
			Int("expired", res.Expired).
			Int("inactive", res.Inactive).
			Int("trimmed", res.Trimmed).
			Int("failed", res.Failed).
			Bool("incomplete", res.Incomplete).
			Msg("session sweep")
	}
	return res, nil
}
