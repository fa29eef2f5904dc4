package conductor

// MissionCallSummary is the call-transcript summarization mission.
const MissionCallSummary = "filesystem_agent.call_summary"

// Playbook describes how the conductor handles a mission type. The
// concrete orchestration steps stay in the orchestrator; a playbook only
// remaps and documents.
type Playbook struct {
	MissionType       string
	Description       string
	WorkerMissionType string
}

var playbooks = map[string]Playbook{
	MissionCallSummary: {
		MissionType:       MissionCallSummary,
		Description:       "Call transcript plus account context into summary and action items.",
		WorkerMissionType: MissionCallSummary,
	},
}

// PlaybookFor looks up the playbook registered for a mission type.
func PlaybookFor(missionType string) (Playbook, bool) {
	pb, ok := playbooks[missionType]
	return pb, ok
}

// MissionTypeFromOverrides extracts the requested mission type. It rides
// in model_overrides so the chat schema stays stable; it is not model
// configuration and the policy resolver ignores it.
func MissionTypeFromOverrides(overrides map[string]any) string {
	if mt, ok := overrides["mission_type"].(string); ok && mt != "" {
		return mt
	}
	return "default"
}
