// Package secrets redacts credentials from text before it leaves an agent
// stage, using the gitleaks rule set for detection.
package secrets
