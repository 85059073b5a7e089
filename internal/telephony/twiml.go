package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// Minimal TwiML builder. Only the verbs the voice webhook answers with.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string           `xml:"url,attr"`
	Params []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// DefaultSayVoice is used by RenderSayTwiML when no voice is given.
const DefaultSayVoice = "Polly.Joanna"

// RenderStreamTwiML connects the call to a bidirectional media stream at streamURL.
// params are passed to the stream's start frame as custom parameters.
func RenderStreamTwiML(streamURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}

	stream := twimlStream{URL: streamURL}
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		stream.Params = append(stream.Params, twimlParameter{Name: k, Value: params[k]})
	}

	return render(twimlResponse{Verbs: []any{twimlConnect{Stream: stream}}})
}

// RenderSayTwiML speaks message and ends the call.
func RenderSayTwiML(message, voice string) (string, error) {
	if voice == "" {
		voice = DefaultSayVoice
	}
	return render(twimlResponse{Verbs: []any{twimlSay{Voice: voice, Text: message}}})
}

func RenderHangupTwiML() (string, error) {
	return render(twimlResponse{Verbs: []any{twimlHangup{}}})
}

// StreamURL is the media stream websocket URL. publicURL wins over the request host.
func StreamURL(publicURL, host, path string) string {
	if publicURL != "" {
		if u, err := url.Parse(publicURL); err == nil && u.Host != "" {
			scheme := "wss"
			if u.Scheme == "http" {
				scheme = "ws"
			}
			return scheme + "://" + u.Host + strings.TrimRight(u.Path, "/") + path
		}
	}
	return "wss://" + host + path
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
