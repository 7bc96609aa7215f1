package goTrust

import (
	"context"

	"github.com/MrEthical07/goTrust/device"
)

// ListTrustedDevices returns every device row of identity, revoked ones
// included.
func (e *Engine) ListTrustedDevices(ctx context.Context, identity string) ([]device.TrustedDevice, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrInvalidRequest
	}
	out, err := e.backend.ListDevices(ctx, identity)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return out, nil
}

// ElevateDevice raises a known device to the elevated trust level.
func (e *Engine) ElevateDevice(ctx context.Context, identity, fingerprint string) (*device.TrustedDevice, error) {
	return e.setDeviceTrust(ctx, identity, fingerprint, device.TrustElevated, auditEventDeviceElevated, MetricDeviceElevated)
}

// RevokeDevice marks a device revoked. The row is kept; the next login from
// it counts as a new device.
func (e *Engine) RevokeDevice(ctx context.Context, identity, fingerprint string) (*device.TrustedDevice, error) {
	d, err := e.setDeviceTrust(ctx, identity, fingerprint, device.TrustRevoked, auditEventDeviceRevoked, MetricDeviceRevoked)
	if err == nil {
		e.notify(ctx, identity, "Device removed",
			"A device was removed from the trusted devices of your account: "+d.Label+".")
	}
	return d, err
}

func (e *Engine) setDeviceTrust(ctx context.Context, identity, fingerprint string, level device.TrustLevel, event string, metric MetricID) (*device.TrustedDevice, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	details := func() map[string]string {
		return map[string]string{"fingerprint": fingerprint, "level": level.String()}
	}
	if identity == "" || fingerprint == "" {
		e.emitAudit(ctx, event, false, identity, "", ErrInvalidRequest, details)
		return nil, ErrInvalidRequest
	}

	d, err := e.backend.SetDeviceTrust(ctx, identity, fingerprint, level, e.now())
	if err != nil {
		err = storeUnavailable(err)
		e.emitAudit(ctx, event, false, identity, "", err, details)
		return nil, err
	}
	if d == nil {
		e.emitAudit(ctx, event, false, identity, "", ErrDeviceNotFound, details)
		return nil, ErrDeviceNotFound
	}

	e.metricInc(metric)
	e.emitAudit(ctx, event, true, identity, "", nil, details)
	return d, nil
}
