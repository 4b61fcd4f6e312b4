// Package security summarizes an engine's effective security settings and
// flags weak ones. The report is read-only and holds no key material.
package security
