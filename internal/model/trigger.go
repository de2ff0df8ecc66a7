package model

// Trigger names the upstream event that asked for a scan.
type Trigger string

const (
	TriggerFormSubmit    Trigger = "form_submit"
	TriggerInputChange   Trigger = "input_change"
	TriggerPaste         Trigger = "paste"
	TriggerCopy          Trigger = "copy"
	TriggerAutofill      Trigger = "autofill"
	TriggerPageScan      Trigger = "page_scan"
	TriggerRequestBody   Trigger = "request_body"
	TriggerRequestHeader Trigger = "request_header"
	TriggerManual        Trigger = "manual"
)

// ParseTrigger maps a wire value onto the closed trigger set. An empty value
// is treated as a manual scan.
func ParseTrigger(raw string) (Trigger, bool) {
	switch t := Trigger(raw); t {
	case "":
		return TriggerManual, true
	case TriggerFormSubmit, TriggerInputChange, TriggerPaste, TriggerCopy,
		TriggerAutofill, TriggerPageScan, TriggerRequestBody, TriggerRequestHeader, TriggerManual:
		return t, true
	default:
		return "", false
	}
}

// AlertKind is the alert raised when a scan from this trigger finds something.
func (t Trigger) AlertKind() AlertKind {
	switch t {
	case TriggerPaste:
		return AlertPasteWarning
	case TriggerCopy:
		return AlertCopyWarning
	case TriggerRequestBody:
		return AlertDataTransmission
	case TriggerRequestHeader:
		return AlertHeaderLeak
	case TriggerFormSubmit, TriggerInputChange, TriggerAutofill, TriggerPageScan, TriggerManual:
		return AlertScanResult
	default:
		return AlertScanResult
	}
}

// ChecksReputation reports whether scans from this trigger consult the
// reputation oracle for their origin URL. Intercepted traffic never does, so
// the proxy does not turn every request into a second outbound call.
func (t Trigger) ChecksReputation() bool {
	switch t {
	case TriggerFormSubmit, TriggerPageScan, TriggerManual:
		return true
	case TriggerInputChange, TriggerPaste, TriggerCopy, TriggerAutofill,
		TriggerRequestBody, TriggerRequestHeader:
		return false
	default:
		return false
	}
}
