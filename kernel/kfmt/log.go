package kfmt

// Level is the severity of a log message.
type Level uint8

// The supported log levels, in increasing order of severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// maxModuleLevels bounds the per-module override table so that it can live
// in static storage.
const maxModuleLevels = 8

var (
	levelNames = [...]string{"debug", "info", "warn", "error"}

	// defaultLevel applies to every module without an override.
	defaultLevel = LevelInfo

	moduleLevels     [maxModuleLevels]moduleLevel
	moduleLevelCount int
)

type moduleLevel struct {
	module string
	level  Level
}

// String returns the level name.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// SetLevel sets the minimum level for modules without an override.
func SetLevel(l Level) {
	defaultLevel = l
}

// SetModuleLevel overrides the minimum level for a single module. It returns
// false if the override table is full.
func SetModuleLevel(module string, l Level) bool {
	for i := 0; i < moduleLevelCount; i++ {
		if moduleLevels[i].module == module {
			moduleLevels[i].level = l
			return true
		}
	}

	if moduleLevelCount == maxModuleLevels {
		return false
	}

	moduleLevels[moduleLevelCount] = moduleLevel{module: module, level: l}
	moduleLevelCount++
	return true
}

// ResetLevels drops all module overrides and restores the default level.
func ResetLevels() {
	defaultLevel = LevelInfo
	moduleLevelCount = 0
}

// Enabled returns true if a message at level l from module would be logged.
func Enabled(l Level, module string) bool {
	threshold := defaultLevel
	for i := 0; i < moduleLevelCount; i++ {
		if moduleLevels[i].module == module {
			threshold = moduleLevels[i].level
			break
		}
	}

	return l >= threshold
}

// Logf prints a "[module] " prefixed message followed by a new line if the
// level is enabled for module.
func Logf(l Level, module, format string, args ...interface{}) {
	if !Enabled(l, module) {
		return
	}

	w := GetOutputSink()
	Fprintf(w, "[%s] ", module)
	Fprintf(w, format, args...)
	writeByte(w, '\n')
}
