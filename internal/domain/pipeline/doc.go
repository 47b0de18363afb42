/*
Package pipeline uploads a session's tile set for palette analysis.

The tile set is split into size-bounded batches (5 MiB by default) that are
sent strictly one after another under the session id. The service merges
every batch into the session's palette and answers with the whole palette so
far, which replaces the Store's palette after each batch. A run therefore
ends with one palette entry per tile in tile order, or, when a batch fails,
with the palette of the batches that succeeded.
*/
package pipeline
