// Package bridge feeds USBTMC program messages to a SCPI engine and
// returns the engine's output on the next Bulk-IN request.
//
// Each completed DEV_DEP_MSG_OUT is split into lines and then on ';', every
// unit is executed, and everything the engine printed is queued as one
// response, empty or not. A REQUEST_DEV_DEP_MSG_IN takes the oldest
// non-empty response, limited to the request's TransferSize and, when
// TermChar is enabled, to the first termination character. What is not
// sent stays queued for the next request. An empty queue is not an error:
// the request simply gets no transfer.
package bridge
