// Package elicit bridges a suspended backend operation and an interactive
// operator. When a backend requests additional input mid-call, a Session
// collects typed field values one at a time, and the suspended call resumes
// once the session resolves to accept, decline, or cancel. Every resolved
// handshake produces an audit record for the operation log.
package elicit
