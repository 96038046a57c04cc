// SPDX-License-Identifier: MPL-2.0

// Package fetch stages artifacts into the target filesystem.
//
// Local sources are copied from the host source root with their permission
// bits. Remote sources are downloaded over HTTP, verified against an optional
// SHA-256 digest and either written as a single file or unpacked from a tar
// archive (plain, gzip, zstd or lz4 compressed). Staging writes only beneath
// the declared destination and skips files whose content and mode already
// match, so re-staging identical content changes nothing.
package fetch
