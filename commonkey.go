package nod

import "github.com/bodgit/nod/internal/commonkey"

// CommonKeys holds the AES-128 common keys used to decrypt Wii title keys.
// nod ships no embedded Nintendo key material: callers load the retail,
// Korean and vWii keys they've sourced themselves before opening a disc
// with RebuildEncryption or before decrypting any partition.
type CommonKeys = commonkey.Set

// CommonKeyIndex selects which common key a ticket's common-key-index field
// names.
type CommonKeyIndex = commonkey.Index

// The three common key slots a Wii ticket can name.
const (
	CommonKeyRetail = commonkey.Retail
	CommonKeyKorean = commonkey.Korean
	CommonKeyVWii   = commonkey.VWii
)
