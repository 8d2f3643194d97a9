package pipeline

// Outcome is the terminal classification of a run. Outcomes are ordered by
// severity so that the worse of two outcomes always wins.
type Outcome uint8

const (
	Success Outcome = iota
	Unstable
	Failure
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Unstable:
		return "unstable"
	case Failure:
		return "failure"
	case Aborted:
		return "aborted"
	default:
		return "unknown outcome"
	}
}

// ExitCode is the process exit code for the outcome. Unstable runs do not
// block, so they exit like successful ones.
func (o Outcome) ExitCode() int {
	switch o {
	case Success, Unstable:
		return 0
	case Failure:
		return 1
	default:
		return 2
	}
}

// worse returns the more severe of o and other.
func (o Outcome) worse(other Outcome) Outcome {
	if other > o {
		return other
	}
	return o
}

// StageStatus is the result recorded for a single stage.
type StageStatus uint8

const (
	NotRun StageStatus = iota
	Skipped
	Passed
	PassedUnstable
	Failed
)

func (s StageStatus) String() string {
	switch s {
	case NotRun:
		return "not_run"
	case Skipped:
		return "skipped"
	case Passed:
		return "passed"
	case PassedUnstable:
		return "unstable"
	case Failed:
		return "failed"
	default:
		return "unknown status"
	}
}
