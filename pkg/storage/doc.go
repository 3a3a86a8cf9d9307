/*
Package storage provides bbolt-backed state persistence for the Overlord.

Three logical tables live in one database file: active_workers (keyed by
minion id), work_history (append-only, keyed by a zero-padded sequence so
cursor order is chronological), and evaluations. A small archived_ids index
makes RecordCompletion idempotent, and a meta bucket carries the schema
version so an incompatible file refuses to open instead of corrupting.

All values are JSON. Mutations run inside single bbolt update transactions,
so the archive step (insert history, delete active) is atomic and the store
survives process crashes: on restart GetActive returns exactly the rows that
were durably committed.
*/
package storage
