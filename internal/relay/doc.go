// Package relay carries privileged git operations across a trust boundary.
//
// An unprivileged Client writes one JSON Request per operation into
// <data-root>/.ctl/requests. A host-side Agent holding real credentials
// polls that directory, executes whitelisted actions confined to the data
// root, and answers with a JSON Response in <data-root>/.ctl/responses,
// which the Client reads and deletes. When no agent serves the data root
// the Client runs the same Executor in-process.
package relay
