package session

// Phase is the furthest pipeline step a session has completed.
type Phase string

const (
	PhaseEmpty           Phase = "empty"
	PhaseSpeechGenerated Phase = "speech_generated"
	PhaseAudioCaptured   Phase = "audio_captured"
	PhaseTranscribed     Phase = "transcribed"
	PhaseEvaluated       Phase = "evaluated"
	PhasePersisted       Phase = "persisted"
)

// Operation names, used for in-flight tracking and status events.
const (
	OpGenerateSpeech = "generate_speech"
	OpPrepareTerms   = "prepare_terms"
	OpSynthesize     = "synthesize"
	OpStartRecording = "start_recording"
	OpStopRecording  = "stop_recording"
	OpUpload         = "upload"
	OpTranscribe     = "transcribe"
	OpEvaluate       = "evaluate"
	OpSave           = "save"
)
