// Package types defines the shared data model for the Overlord: worker
// records and their closed status set, work history entries, queue items,
// pending questions, minion report events, and evaluation records.
//
// Everything here is a plain struct serialized as JSON, both for the bbolt
// store and for the HTTP control plane. Behavioral code lives in the
// packages that own each concern.
package types
