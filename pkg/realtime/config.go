package realtime

// DefaultSessionConfig returns the session configuration pushed right
// after the session is created. Both audio directions run g711 μ-law so
// frames pass between Twilio and the model without transcoding.
func DefaultSessionConfig(voice, instructions string) map[string]any {
	return map[string]any{
		"modalities":          []string{"text", "audio"},
		"voice":               voice,
		"instructions":        instructions,
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type": "server_vad",
		},
	}
}

// MergeSessionConfig layers client-submitted overrides on top of the
// defaults. Top-level keys win wholesale; nested documents are replaced,
// not merged, so a client that overrides turn_detection owns all of it.
func MergeSessionConfig(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
