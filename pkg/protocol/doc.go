// Package protocol defines the JSON envelopes exchanged between devices and
// the relay hub.
//
// Inbound envelopes are decoded into a closed set of message variants, one
// per "type" value. Anything that is not a JSON object is rejected with
// ErrMalformed; an object with an unknown type yields an *UnknownTypeError;
// a known type whose fields have the wrong shape yields an
// *InvalidFieldError. Outbound frames are plain structs embedding a Header
// so that every frame carries "type" and "timestamp".
//
// Binary payloads (frames, images, audio) travel as standard base64 strings
// and are left encoded by the decoder; callers decode them with DecodePayload
// when they need the bytes.
package protocol
