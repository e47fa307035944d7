// Package crawler holds the shared vocabulary of the statement pipeline:
// judges, tasks, completed records, the messages exchanged between stages,
// and the collaborator interfaces (listers, extractors, browser sessions,
// blob stores) the stages are written against.
package crawler
