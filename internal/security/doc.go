// Package security derives a security posture report from engine settings.
//
// The package depends on nothing in the root module; callers flatten their
// configuration into a ReportInput.
package security
