package launcher

// Stage identifies one step of the build and launch pipeline. Stages run
// strictly in the order returned by Stages, a failed stage aborts the run
// and nothing after it executes.
type Stage string

const (
	StageProvision   Stage = "provision"
	StageMaterialize Stage = "materialize"
	StageResolve     Stage = "resolve"
	StageLaunch      Stage = "launch"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageProvision, StageMaterialize, StageResolve, StageLaunch}
}
