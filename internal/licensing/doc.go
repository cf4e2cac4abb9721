// Package licensing implements the license lifecycle: activation binds a
// deployment site to a license key, consuming one seat; deactivation
// releases the binding; check classifies a (key, site) pair as invalid,
// inactive, or valid. Seat enforcement is serialized per key so concurrent
// activations cannot oversubscribe a license.
package licensing
