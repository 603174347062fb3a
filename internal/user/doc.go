// Package user holds the user accounts of a profile.
//
// A User is a typed view over one document of the profile's user
// collection. Passwords are stored as bcrypt hashes; logins are recorded
// in the login_time attribute, whose history the core schema bounds.
package user
