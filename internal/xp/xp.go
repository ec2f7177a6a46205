// Package xp converts experience points into levels.
//
// A learner at level L needs RequiredXP(L) points to reach L+1. XP held by a
// learner is always the surplus inside the current level, so after any award
// the invariant xp < RequiredXP(level) holds.
package xp

const (
	// DefaultPerLevel is the baseline threshold factor: level L needs L*500 XP.
	DefaultPerLevel = 500

	// DefaultPerUnit is awarded for each first-time lesson completion.
	DefaultPerUnit = 100

	// MinLevel is the level every learner starts at.
	MinLevel = 1
)

// Calculator holds the gamification constants.
type Calculator struct {
	PerLevel int
	PerUnit  int
}

// Default returns a calculator with the baseline constants.
func Default() Calculator {
	return Calculator{PerLevel: DefaultPerLevel, PerUnit: DefaultPerUnit}
}

// New returns a calculator, substituting defaults for non-positive values.
func New(perLevel, perUnit int) Calculator {
	c := Default()
	if perLevel > 0 {
		c.PerLevel = perLevel
	}
	if perUnit > 0 {
		c.PerUnit = perUnit
	}
	return c
}

// RequiredXP returns the XP needed to advance from level to level+1.
// Levels below MinLevel are treated as MinLevel.
func (c Calculator) RequiredXP(level int) int {
	if level < MinLevel {
		level = MinLevel
	}
	return level * c.perLevel()
}

// AwardAndNormalize adds delta to xp and folds every full threshold into a
// level increment. Negative deltas are ignored: XP is never taken away.
func (c Calculator) AwardAndNormalize(xp, level, delta int) (newXP, newLevel int) {
	if delta < 0 {
		delta = 0
	}
	return c.Normalize(xp+delta, level)
}

// Normalize folds any overflow in xp into levels.
func (c Calculator) Normalize(xp, level int) (int, int) {
	if level < MinLevel {
		level = MinLevel
	}
	if xp < 0 {
		xp = 0
	}
	for xp >= c.RequiredXP(level) {
		xp -= c.RequiredXP(level)
		level++
	}
	return xp, level
}

// Consistent reports whether xp and level satisfy the normalization invariant.
func (c Calculator) Consistent(xp, level int) bool {
	return level >= MinLevel && xp >= 0 && xp < c.RequiredXP(level)
}

// UnitsAward returns the XP granted for n first-time completions.
func (c Calculator) UnitsAward(n int) int {
	if n <= 0 {
		return 0
	}
	return n * c.perUnit()
}

// TotalXP returns the lifetime XP implied by a normalized (xp, level) pair.
func (c Calculator) TotalXP(xp, level int) int {
	total := xp
	for l := MinLevel; l < level; l++ {
		total += c.RequiredXP(l)
	}
	return total
}

func (c Calculator) perLevel() int {
	if c.PerLevel <= 0 {
		return DefaultPerLevel
	}
	return c.PerLevel
}

func (c Calculator) perUnit() int {
	if c.PerUnit <= 0 {
		return DefaultPerUnit
	}
	return c.PerUnit
}

// RequiredXP uses the default calculator.
func RequiredXP(level int) int {
	return Default().RequiredXP(level)
}

// AwardAndNormalize uses the default calculator.
func AwardAndNormalize(xp, level, delta int) (int, int) {
	return Default().AwardAndNormalize(xp, level, delta)
}
