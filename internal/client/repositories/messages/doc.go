// Package messages provides the client-side persistence layer for root
// messages, their attachments and delivery receipts.
//
// # Overview
//
// Repository is the contract used by the mail services. SQLiteRepository
// persists data through a dbx.DBTX, so it can be bound either to the
// database or to a transaction opened with dbx.WithTx. StoreMessage writes
// several tables and is expected to run inside such a transaction.
//
// # Data Model
//
// A message row holds the decrypted content headers and body. Attachments
// are keyed by (parent_id, file_name) and keep the ordered ids of their
// file-part messages. Deliveries hold the earliest receipt time per reader.
// Deleted messages are tombstoned with is_deleted=1 so that a later sync
// does not download them again.
package messages
