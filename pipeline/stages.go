package pipeline

// Stage is a named step in the fixed sales pipeline.
type Stage string

const (
	StageInbox           Stage = "inbox"
	StageToCall          Stage = "to_call"
	StageConsultation    Stage = "consultation"
	StageSiteSurvey      Stage = "site_survey"
	StageProposalSent    Stage = "proposal_sent"
	StageContractSent    Stage = "contract_sent"
	StageForInstallation Stage = "for_installation"
	StageInstallation    Stage = "installation"
	StageCommissioning   Stage = "commissioning"
	StageClosed          Stage = "closed"
)

// stageOrder is the total order over pipeline stages. Automated transitions
// may only move an opportunity to a later entry.
var stageOrder = []Stage{
	StageInbox,
	StageToCall,
	StageConsultation,
	StageSiteSurvey,
	StageProposalSent,
	StageContractSent,
	StageForInstallation,
	StageInstallation,
	StageCommissioning,
	StageClosed,
}

// ShouldAdvance reports whether an automated transition from current to
// target is allowed: both stages must be known and target must be strictly
// later. Unknown stages fail safe to false.
//
// Manual stage changes made by a user bypass this guard on purpose; the
// asymmetry lets staff correct a pipeline without fighting the automation.
func ShouldAdvance(current, target Stage) bool {
	ci := stageIndex(current)
	ti := stageIndex(target)
	if ci < 0 || ti < 0 {
		return false
	}
	return ti > ci
}

func stageIndex(s Stage) int {
	for i, v := range stageOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Stages returns the pipeline order, earliest first.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}
