// Package security derives the Engine's security posture report from its
// effective configuration.
package security
