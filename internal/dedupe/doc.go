// Package dedupe remembers recent results by key so a retried request can be
// answered with the original result instead of being applied twice.
package dedupe
