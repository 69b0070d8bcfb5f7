package handler

import (
	"fmt"
	"net/http"
	"strings"
)

// Verb is the method of a reflective route.
type Verb int

const (
	VerbInvalid Verb = iota
	VerbGET
	VerbPOST
	VerbPUT
	VerbDELETE
	VerbHEAD
	VerbWebsocket
)

var verbNames = map[Verb]string{
	VerbGET:       "GET",
	VerbPOST:      "POST",
	VerbPUT:       "PUT",
	VerbDELETE:    "DELETE",
	VerbHEAD:      "HEAD",
	VerbWebsocket: "WEBSOCKET",
}

// ParseVerb maps a verb name, case-insensitively.
func ParseVerb(s string) (Verb, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for v, name := range verbNames {
		if name == up {
			return v, nil
		}
	}
	return VerbInvalid, fmt.Errorf("unknown verb %q", s)
}

func (v Verb) String() string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return "INVALID"
}

// Method returns the HTTP method the verb is served on. Websocket upgrades
// arrive as GET.
func (v Verb) Method() string {
	switch v {
	case VerbWebsocket:
		return http.MethodGet
	case VerbInvalid:
		return ""
	default:
		return v.String()
	}
}

// Valid reports whether v is a known verb.
func (v Verb) Valid() bool {
	_, ok := verbNames[v]
	return ok
}
