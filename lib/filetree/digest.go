// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package filetree

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"
)

// Digest is a BLAKE3 hash of a tree's canonical encoding. Two trees have
// the same digest exactly when they are Equal.
type Digest [32]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first 12 hex characters, for log lines and status
// bars.
func (d Digest) Short() string { return hex.EncodeToString(d[:6]) }

// treeDomainKey separates file-tree digests from any other BLAKE3 use.
// The bytes are the ASCII domain name, zero-padded to 32.
var treeDomainKey = [32]byte{
	'h', 'u', 'd', 'd', 'l', 'e', '.', 'f', 'i', 'l', 'e', 't', 'r', 'e', 'e', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const (
	tagFile      byte = 'f'
	tagDirectory byte = 'd'
	tagEnd       byte = 'e'
)

// Digest computes the keyed BLAKE3 digest of the tree. Entries are
// encoded in name order as tag, length-prefixed name, and either
// length-prefixed contents or the nested directory followed by an end
// tag, so the encoding is unambiguous.
func (t Tree) Digest() Digest {
	hasher, err := blake3.NewKeyed(treeDomainKey[:])
	if err != nil {
		panic("filetree: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	t.writeCanonical(hasher)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

func (t Tree) writeCanonical(h hash.Hash) {
	for _, name := range t.names() {
		node := t[name]
		if node.IsFile() {
			h.Write([]byte{tagFile})
			writeString(h, name)
			writeString(h, node.File.Contents)
			continue
		}
		h.Write([]byte{tagDirectory})
		writeString(h, name)
		node.Directory.writeCanonical(h)
		h.Write([]byte{tagEnd})
	}
}

func writeString(h hash.Hash, value string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(value)))
	h.Write(length[:])
	h.Write([]byte(value))
}
