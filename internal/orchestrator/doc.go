// SPDX-License-Identifier: MPL-2.0

// Package orchestrator runs expanded units to a terminal state.
//
// Each unit walks Pending -> Installing -> Running(i) and ends Succeeded,
// Failed(i) or Errored. Steps of a unit run strictly in order; units are
// independent of one another and may run concurrently up to the configured
// job limit. Results are always returned in expansion order.
package orchestrator
