/*
Package security enforces Switchyard's two trust boundaries: which factory
references may resolve to code, and which remote manifests may register
candidates.

# Factory policy

A factory reference ("module:symbol") passes only if its module is outside
the block-list (process control, subprocess spawning, shell utilities, raw
importers, introspection helpers) and, when FACTORY_ALLOWLIST is configured,
under one of the allowed prefixes. An empty configured allow-list rejects
everything. Prefix matching is dotted-module aware: "os" blocks "os" and
"os.path" but not "oscar".

# Manifest signatures

Remote manifests carry a detached Ed25519 signature over their canonical byte
form. The trust set is built from TRUSTED_SIGNERS; any trusted key verifying
the signature suffices. A non-empty trust set makes a missing signature a
hard failure, so a manifest can never downgrade to unsigned once signing is
rolled out.
*/
package security
