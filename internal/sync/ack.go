package sync

// Ack is the remote collaborator's acknowledgment of one applied operation.
// Body is the raw decoded response; the service has shipped several response
// shapes over time, so the sync tag is recovered by probing Body rather than
// by binding to any one schema.
type Ack struct {
	// Created reports whether the remote created the entity rather than
	// updating an existing one.
	Created bool

	// Body is the decoded response object, if any.
	Body map[string]any
}

// shapeMatcher tries one known response shape and returns the sync tag if
// the shape matches.
type shapeMatcher func(body map[string]any) (string, bool)

// syncTagMatchers are tried in priority order: the current top-level field
// first, then the envelope used by the v2 API, then the shape produced by the
// webview bridge. First match wins.
var syncTagMatchers = []shapeMatcher{
	matchTopLevelTag,
	matchDataEnvelopeTag,
	matchWebviewTag,
}

// ExtractSyncTag probes all known response shapes for the server-confirmed
// sync tag. A missing tag is a soft failure: the note is left without a
// version marker but the operation still completed.
func ExtractSyncTag(body map[string]any) (string, bool) {
	if body == nil {
		return "", false
	}
	for _, match := range syncTagMatchers {
		if tag, ok := match(body); ok {
			return tag, true
		}
	}
	return "", false
}

func matchTopLevelTag(body map[string]any) (string, bool) {
	return stringField(body, "syncTag")
}

func matchDataEnvelopeTag(body map[string]any) (string, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return "", false
	}
	return stringField(data, "syncTag")
}

func matchWebviewTag(body map[string]any) (string, bool) {
	webview, ok := body["webviewResponse"].(map[string]any)
	if !ok {
		return "", false
	}
	note, ok := webview["note"].(map[string]any)
	if !ok {
		return "", false
	}
	return stringField(note, "syncTag")
}

func stringField(m map[string]any, key string) (string, bool) {
	value, ok := m[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
