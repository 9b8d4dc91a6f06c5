package twilio

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
)

// StreamTwiML builds the TwiML document that connects a call to the
// media-stream WebSocket endpoint. Custom parameters are echoed back by
// Twilio inside the stream's start frame, which is how the bridge carries
// identity across the otherwise anonymous transport.
func StreamTwiML(wsURL string, params map[string]string) string {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString("<Response>\n    <Connect>\n")
	fmt.Fprintf(&buf, "        <Stream url=\"%s\">\n", escapeXML(wsURL))
	for _, name := range sortedKeys(params) {
		fmt.Fprintf(&buf, "            <Parameter name=\"%s\" value=\"%s\"/>\n",
			escapeXML(name), escapeXML(params[name]))
	}
	buf.WriteString("        </Stream>\n    </Connect>\n</Response>")
	return buf.String()
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
