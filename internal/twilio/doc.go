// Package twilio speaks just enough of the Twilio messaging API for the
// attendance bot.
//
// Inbound messages arrive as form-encoded webhook POSTs. The reply is either
// returned inline as TwiML (MessageResponse) or sent afterwards through the
// REST API (Sender.Send) with an EmptyResponse acknowledging the webhook.
// ValidSignature checks the X-Twilio-Signature header against the account's
// auth token.
//
// Bodies are capped at MaxBodyLength runes on every path.
package twilio
