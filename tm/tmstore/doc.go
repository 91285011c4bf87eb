// Package tmstore contains the storage interfaces used by the proposal orchestrator.
//
// The in-memory implementation lives in [tmmemstore],
// and the compliance suite every implementation should pass lives in [tmstoretest].
package tmstore
