// Package unpack expands zip and tar archives found in the inbox so their
// members can be analyzed as entries of their own.
//
// Members are streamed straight into the staging directory under their
// digest. A member name is only ever recorded, never used as a filesystem
// path, and archives whose names escape the archive root are refused
// outright. Member count, per-member size and total expanded size are capped
// against decompression bombs; exceeding any limit refuses the whole archive
// and removes the copies staged for it so far. Expansion is one level deep:
// an archive inside an archive is staged as a member, not expanded.
package unpack
