package progression

// XPPerLevel is the width of one level band
const XPPerLevel int64 = 10000

var tierNames = []string{"beginner", "elementary", "intermediate", "advanced", "master"}

// LevelTier is the level derived from accumulated XP
type LevelTier struct {
	Level int    `json:"level"`
	Name  string `json:"name"`
}

// LevelOf maps experience points to a tier. Negative input is treated as zero.
// Names stop at "master"; the numeric level keeps rising.
func LevelOf(xp int64) LevelTier {
	if xp < 0 {
		xp = 0
	}
	level := int(xp/XPPerLevel) + 1
	idx := level - 1
	if idx >= len(tierNames) {
		idx = len(tierNames) - 1
	}
	return LevelTier{Level: level, Name: tierNames[idx]}
}

// XPToNextLevel returns the XP still needed to cross the next boundary
func XPToNextLevel(xp int64) int64 {
	if xp < 0 {
		xp = 0
	}
	return XPPerLevel - xp%XPPerLevel
}
