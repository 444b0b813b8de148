package lifecycle

// Phase is where an installation is in the pipeline
type Phase int32

const (
	Stable Phase = iota
	Resolving
	Fetching
	Applying
	Committing
)

func (p Phase) String() string {
	switch p {
	case Resolving:
		return "resolving"
	case Fetching:
		return "fetching"
	case Applying:
		return "applying"
	case Committing:
		return "committing"
	default:
		return "stable"
	}
}
