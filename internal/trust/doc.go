// Package trust decides whether a plugin's signer certificate is
// acceptable.
//
// The default Verifier, AcceptAll, accepts every certificate including a
// missing one. It exists for compatibility and is INSECURE: hosts that
// load third-party plugins should compile a policy with Compile.
//
// Policies are boolean expressions in CEL or expr over two variables:
//
//	cert  map of certificate facts (see Facts)
//	now   the evaluation time
//
// For example:
//
//	cert.present && !cert.self_signed && cert.not_after > now
package trust
