// Package dedupe remembers the reply sent for each transport message ID so a
// redelivered webhook is answered again without being processed twice.
package dedupe
