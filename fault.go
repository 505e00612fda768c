package onvif

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// Fault is a SOAP fault returned by a device.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString("SOAP fault")
	if f.Subcode != "" {
		b.WriteString(" ")
		b.WriteString(f.Subcode)
	} else if f.Code != "" {
		b.WriteString(" ")
		b.WriteString(f.Code)
	}
	if f.Reason != "" {
		b.WriteString(": ")
		b.WriteString(f.Reason)
	}
	return b.String()
}

// parseFault reads a SOAP 1.2 fault, falling back to SOAP 1.1 faultcode/faultstring.
func parseFault(fault *etree.Element) *Fault {
	f := &Fault{}
	if code := fault.SelectElement("Code"); code != nil {
		f.Code = textOf(code.SelectElement("Value"))
		// ONVIF nests the specific reason one or two Subcode levels down
		for sub := code.SelectElement("Subcode"); sub != nil; sub = sub.SelectElement("Subcode") {
			if v := textOf(sub.SelectElement("Value")); v != "" {
				f.Subcode = v
			}
		}
	}
	if reason := fault.SelectElement("Reason"); reason != nil {
		f.Reason = textOf(reason.SelectElement("Text"))
	}
	if f.Code == "" {
		f.Code = textOf(fault.SelectElement("faultcode"))
	}
	if f.Reason == "" {
		f.Reason = textOf(fault.SelectElement("faultstring"))
	}
	return f
}

// faultError classifies authorization faults so callers can tell them apart.
func faultError(f *Fault) error {
	if strings.Contains(f.Subcode, "NotAuthorized") || strings.Contains(f.Code, "NotAuthorized") {
		return errors.NewUnauthorized(f, "not authorized")
	}
	return f
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
