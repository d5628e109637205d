// Package ota manages firmware slot selection through the otadata
// partition.
//
// otadata holds two 32-byte select entries, one at the start of each of its
// two sectors. The entry with the highest checksummed sequence number wins;
// sequence seq selects slot (seq-1) mod 2. Its state field records whether
// the image in that slot has proven itself:
//
//	New -> PendingVerify -> Valid
//	                     -> Invalid / Aborted
//
// Boot calls Validate once the system is up. Validate only ever promotes a
// New or PendingVerify slot to Valid, so calling it again is harmless.
package ota
