// Package secrets protects credentials at rest.
//
// Cipher encrypts small values such as the system administrator password
// before they are written to app settings. HashPassword and CheckPassword wrap
// bcrypt for account passwords, caretaker PINs and family system PINs.
package secrets
