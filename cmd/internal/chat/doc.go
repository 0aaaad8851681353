// Package chat implements the chat room core: the participant registry,
// the message ledger and the inactivity reaper.
//
// Persistence lives behind ParticipantStore and MessageStore; every operation
// re-reads the store before acting and nothing is cached in process.
// Transport (HTTP/WS) integration lives in httpapi and realtime.
package chat
