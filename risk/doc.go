// Package risk scores login attempts.
//
// [Engine.Assess] is a pure function of its [Input]: identical inputs always
// produce an identical score and factor set. Everything that needs I/O (login
// history, trusted devices, failure counters) is loaded by the caller and
// passed in.
//
// # Factors and weights
//
// Each factor in [Factors] is computed independently and contributes a fixed
// weight from [Weights]. Adjustments are then applied in this order:
//
//   - account maturity discount (over 90, 180 or 365 days)
//   - new-account surcharge (under 2 days)
//   - failed-login surcharge
//   - combined surcharge when impossible travel and new device both fire
//   - compounding surcharge when four or more factors fire
//
// The result is clamped to [0, 100].
//
// # Impossible travel
//
// Impossible travel compares the previous successful login with the current
// attempt. If either lacks coordinates the factor is false. Missing
// geolocation never raises the score.
package risk
