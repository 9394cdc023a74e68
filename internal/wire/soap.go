package wire

import (
	"fmt"
	"strings"
)

// SOAPArg is one ordered argument of a SOAP action body.
type SOAPArg struct {
	Name  string
	Value string
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML replaces the five XML-reserved characters before text is
// interpolated into an element body. The ampersand rule in NewReplacer runs
// left to right, so already-present entities are escaped too; renderers accept
// that and it keeps the builder stateless.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// BuildSOAPEnvelope renders the fixed SOAP 1.1 envelope the AVTransport
// service expects. Argument values are embedded verbatim: callers escape
// free-form text with EscapeXML first.
func BuildSOAPEnvelope(action, namespace string, args []SOAPArg) string {
	var body strings.Builder
	for _, arg := range args {
		fmt.Fprintf(&body, "<%s>%s</%s>", arg.Name, arg.Value, arg.Name)
	}
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?>`+
			`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`+
			`<s:Body><u:%s xmlns:u="%s">%s</u:%s></s:Body></s:Envelope>`,
		action, namespace, body.String(), action,
	)
}

// ExtractXMLValue returns the text of the first <tag>...</tag> occurrence.
// It is deliberately not a general XML parser: no nesting or namespace
// handling, matching what the devices actually emit.
func ExtractXMLValue(xml, tag string) (string, bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	start := strings.Index(xml, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(xml[start:], close)
	if end < 0 {
		return "", false
	}
	return xml[start : start+end], true
}
