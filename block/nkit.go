package block

import "github.com/bodgit/nod/nkit"

// applyNKit merges an NKit sidecar header into a provider's DiscMeta:
// a stored disc size fills in an absent provider-reported size, the
// lossless/needs-hash-recovery flags are derived from which fields the
// header carries, and any stored digest overwrites whatever the provider
// already computed from the container itself.
func applyNKit(meta *DiscMeta, h *nkit.Header) {
	meta.NeedsHashRecovery = meta.NeedsHashRecovery || h.JunkBits != nil
	meta.Lossless = meta.Lossless || (h.Size != nil && h.JunkBits != nil)
	if meta.DiscSize == nil {
		meta.DiscSize = h.Size
	}
	if h.CRC32 != nil {
		meta.CRC32 = h.CRC32
	}
	if h.MD5 != nil {
		meta.MD5 = h.MD5
	}
	if h.SHA1 != nil {
		meta.SHA1 = h.SHA1
	}
	if h.XXHash64 != nil {
		meta.XXHash64 = h.XXHash64
	}
}
