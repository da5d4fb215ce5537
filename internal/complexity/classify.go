package complexity

import (
	"github.com/thebtf/jules-command/internal/pathrules"
)

// Classify derives the file-based scoring inputs from a list of changed paths.
// LinesChanged is left for the caller, who knows the diff size.
func Classify(files []string, rules *pathrules.Rules) Input {
	in := Input{FilesChanged: len(files)}
	for _, f := range files {
		if rules.Matches(pathrules.Test, f) {
			in.TestFilesChanged++
		}
		if rules.Matches(pathrules.Critical, f) {
			in.CriticalFilesTouched = true
		}
		if rules.Matches(pathrules.Dependency, f) {
			in.DependencyFilesTouched = true
		}
	}
	return in
}
