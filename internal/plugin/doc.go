// Package plugin manages the lifecycle of plugin artifacts.
//
// A plugin starts as an artifact on disk (sandpolis-plugin-*). Install
// reads its manifest and records it in the profile's plugin collection.
// Load verifies the artifact hash, applies the trust Verifier to its
// signer certificate and runs the extension entry point registered for
// its id. Each check is a hard gate: a failure is logged, Load reports
// the Outcome and the record stays Installed.
//
//	Downloaded --Install--> Installed --Load--> Loaded
//	                            ^ |
//	                     Enable | | Disable
//	                            | v
//	                          Disabled
package plugin
