// ABOUTME: TwiML documents returned from the messaging webhook
// ABOUTME: One <Message> reply, or an empty <Response/> when the reply goes out over REST

package twilio

import (
	"encoding/xml"
)

// ContentType is the media type of a TwiML document.
const ContentType = "application/xml"

type twimlResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	Messages []twimlMessage `xml:"Message"`
}

type twimlMessage struct {
	Body string `xml:",chardata"`
}

// MessageResponse renders a TwiML reply carrying text, clipped to MaxBodyLength.
func MessageResponse(text string) []byte {
	return render(twimlResponse{Messages: []twimlMessage{{Body: Clip(text, MaxBodyLength)}}})
}

// EmptyResponse renders a TwiML document that sends nothing.
func EmptyResponse() []byte {
	return render(twimlResponse{})
}

func render(r twimlResponse) []byte {
	out, err := xml.Marshal(r)
	if err != nil {
		// Only strings are marshalled, so this cannot happen.
		return []byte(xml.Header + "<Response></Response>")
	}
	return append([]byte(xml.Header), out...)
}
