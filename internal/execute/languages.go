package execute

import "strings"

// Editor language ids and common aliases mapped to Piston runtime names
var languageAliases = map[string]string{
	"javascript": "javascript",
	"js":         "javascript",
	"python":     "python",
	"py":         "python",
	"python3":    "python",
	"cpp":        "c++",
	"c++":        "c++",
	"c":          "c",
	"java":       "java",
	"typescript": "typescript",
	"ts":         "typescript",
	"go":         "go",
	"golang":     "go",
	"rust":       "rust",
	"rs":         "rust",
	"ruby":       "ruby",
	"rb":         "ruby",
	"php":        "php",
	"csharp":     "csharp",
	"c#":         "csharp",
	"cs":         "csharp",
	"swift":      "swift",
	"kotlin":     "kotlin",
	"kt":         "kotlin",
	"bash":       "bash",
	"shell":      "bash",
	"sql":        "sql",
	"perl":       "perl",
	"r":          "r",
	"scala":      "scala",
	"lua":        "lua",
	"haskell":    "haskell",
	"elixir":     "elixir",
	"clojure":    "clojure",
	"dart":       "dart",
	"julia":      "julia",
	"pascal":     "pascal",
	"fortran":    "fortran",
	"cobol":      "cobol",
	"zig":        "zig",
}

// NormalizeLanguage maps an alias to its Piston name. Unknown names pass
// through lower-cased so Piston can report them.
func NormalizeLanguage(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	if name, ok := languageAliases[key]; ok {
		return name
	}
	return key
}
