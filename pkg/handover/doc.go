// Package handover follows agent-to-agent delegation.
//
// A turn whose result is classified as a handover is re-run against the named
// agent with the same conversation. Every delegation spends one hop of a
// budget shared by the whole top-level execution, nested executions included,
// so cyclic delegation always ends with ErrHandoverLimitExceeded.
package handover
